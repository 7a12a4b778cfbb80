package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerDrawsAndClears(t *testing.T) {
	var out lockedBuffer
	s := newSpinner(context.Background(), &out, "Encoding")
	s.start()
	time.Sleep(200 * time.Millisecond)
	s.stop()

	got := out.String()
	if !strings.Contains(got, "Encoding") {
		t.Errorf("output %q lacks the message", got)
	}
	if !strings.HasSuffix(got, "\r") {
		t.Errorf("line not cleared: %q", got)
	}
}

func TestSpinnerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSpinner(ctx, &lockedBuffer{}, "Encoding").start()
	cancel()

	select {
	case <-s.stopped:
	case <-time.After(time.Second):
		t.Fatal("spinner kept running after cancel")
	}
	s.stop()
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	s := newSpinner(context.Background(), &lockedBuffer{}, "Encoding").start()
	s.stop()
	s.stop()
}
