package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/sitepix/pkg/codec"
	"github.com/matzehuels/sitepix/pkg/delivery"
	"github.com/matzehuels/sitepix/pkg/transform"
)

// resolution is what resolve reports, also its --json shape.
type resolution struct {
	Transform transform.Transform `json:"transform"`
	Key       string              `json:"key"`
	Endpoint  string              `json:"endpoint,omitempty"`
	File      string              `json:"file,omitempty"`
	HTML      string              `json:"html"`
}

// resolveCommand creates the resolve command, which shows how a request
// would be delivered without encoding anything.
func (c *CLI) resolveCommand() *cobra.Command {
	var (
		flags  requestFlags
		mode   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <src>",
		Short: "Show the resolved transform and delivery URL for an image",
		Long: `Resolve a partial image request the way a page template would, and print
the complete transform, its canonical key, the endpoint URL and the static
file name. Nothing is encoded or written.`,
		Example: `  sitepix resolve /assets/cat.jpg -W 400
  sitepix resolve https://example.com/a.png -W 200 -H 200 -f webp --probe=false --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			override(&cfg.Mode, mode)
			p, err := c.newComponents(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer c.closeQuietly(ctx, "cache", p)

			src, _, meta := sourceFor(args[0], p)
			req, err := flags.request(ctx, src, meta)
			if err != nil {
				return err
			}
			t, err := transform.Resolve(req)
			if err != nil {
				return err
			}

			d := p.dispatcher(p.mode, c)
			attrs, err := d.Image(ctx, req)
			if err != nil {
				return err
			}
			res := resolution{
				Transform: t,
				Key:       t.Key().String(),
				HTML:      string(attrs.HTML()),
			}
			if _, ok := codec.AsServer(p.service); ok {
				endpoint := p.dispatcher(delivery.ModeServer, c)
				res.Endpoint, _ = endpoint.DeliveryPath(t)
				res.File = d.Filename(t)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResolution(p.mode, res)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "", "delivery mode for the html line: static, server or dev")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func printResolution(mode delivery.Mode, res resolution) {
	t := res.Transform
	fmt.Println(StyleTitle.Render(t.Src))
	printKeyValue("size", StyleNumber.Render(strconv.Itoa(t.Width))+"x"+StyleNumber.Render(strconv.Itoa(t.Height)))
	printKeyValue("format", string(t.Format))
	if t.Quality > 0 {
		printKeyValue("quality", strconv.Itoa(t.Quality))
	}
	if t.Fit != "" {
		printKeyValue("fit", t.Fit)
	}
	if t.Position != "" {
		printKeyValue("position", t.Position)
	}
	if t.Background != "" {
		printKeyValue("background", t.Background)
	}
	printKeyValue("key", res.Key)
	if res.Endpoint != "" {
		printKeyValue("endpoint", StyleLink.Render(res.Endpoint))
	}
	if res.File != "" {
		printKeyValue("file", res.File)
	}
	printKeyValue(mode.String(), res.HTML)
}
