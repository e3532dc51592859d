package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"space-explorer/internal/fallback"
	"space-explorer/internal/mosaic"
	"space-explorer/internal/prober"
	"space-explorer/internal/viewer"
)

func newLoadCmd(v *viper.Viper) *cobra.Command {
	var sel selectionFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run the full load cascade against a headless viewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := sel.day()
			if err != nil {
				return err
			}
			e, err := newEnv(v)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			opts := []fallback.Option{
				fallback.WithLogger(e.logger),
				fallback.WithDeadline(v.GetDuration("deadline")),
				fallback.WithRetryStrategy(fallback.RetryStrategy{
					MaxAttempts: v.GetInt("attempts"),
					Base:        v.GetDuration("retry-base"),
				}),
				fallback.WithSink(fallback.SinkFunc(func(ev fallback.Event) { printEvent(out, ev) })),
			}
			if !v.GetBool("no-probe") {
				opts = append(opts, fallback.WithProber(prober.New(e.client, prober.WithLogger(e.logger))))
			}
			if e.client.ProxyBase() != "" {
				opts = append(opts, fallback.WithMosaic(e.client))
			} else {
				opts = append(opts, fallback.WithMosaic(mosaic.NewCompositor(e.client, 0, e.logger)))
			}

			o := fallback.New(e.resolver, viewer.NewHeadless(e.client, e.logger), opts...)
			res, err := o.Load(cmd.Context(), fallback.Selection{BodyID: sel.body, LayerID: sel.layer, Date: day})
			if err != nil {
				if errors.Is(err, fallback.ErrImageryUnavailable) {
					return errors.New(res.Message)
				}
				return err
			}
			fmt.Fprintf(out, "loaded %s via %s after %d attempt(s): %s\n",
				res.Source.LayerID, res.Strategy, res.Attempts, shorten(res.Source.URL))
			return nil
		},
	}
	sel.register(cmd)

	flags := cmd.Flags()
	flags.Duration("deadline", fallback.DefaultDeadline, "overall load deadline")
	flags.Int("attempts", fallback.DefaultRetryStrategy().MaxAttempts, "load attempts of the primary source")
	flags.Duration("retry-base", fallback.DefaultRetryStrategy().Base, "backoff unit between attempts")
	flags.Bool("no-probe", false, "skip the content probe")
	for _, key := range []string{"deadline", "attempts", "retry-base", "no-probe"} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}
	return cmd
}

func printEvent(w io.Writer, ev fallback.Event) {
	line := fmt.Sprintf("%s %-10s", ev.Time.Format(time.TimeOnly), ev.State)
	if ev.Strategy != "" {
		line += " strategy=" + string(ev.Strategy)
	}
	if ev.Attempt > 0 {
		line += fmt.Sprintf(" attempt=%d", ev.Attempt)
	}
	if ev.Delay > 0 {
		line += " delay=" + ev.Delay.String()
	}
	if ev.URL != "" {
		line += " url=" + shorten(ev.URL)
	}
	if ev.Message != "" {
		line += " message=" + ev.Message
	}
	fmt.Fprintln(w, line)
}

// shorten keeps data URLs readable on a terminal
func shorten(url string) string {
	if viewer.IsDataURL(url) && len(url) > 48 {
		return url[:48] + "..."
	}
	return url
}
