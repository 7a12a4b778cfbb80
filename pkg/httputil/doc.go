// Package httputil fetches remote source images.
//
// [Client] performs GET requests with a size limit and maps failures onto
// the sitepix error codes:
//
//   - 404 and 410: SOURCE_NOT_FOUND, not retried
//   - 429 and 5xx: NETWORK_ERROR, retried
//   - transport failures: NETWORK_ERROR, retried
//   - other non-2xx: NETWORK_ERROR, not retried
//
// [Retry] is the backoff loop underneath; it only retries errors wrapped in
// [RetryableError].
//
//	c := httputil.NewClient(10 * time.Second)
//	resp, err := c.Get(ctx, "https://cdn.example.com/cat.jpg")
package httputil
