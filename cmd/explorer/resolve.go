package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"space-explorer/internal/common"
)

// selectionFlags are shared by resolve and load
type selectionFlags struct {
	body  string
	layer string
	date  string
}

func (s *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.body, "body", "earth", "celestial body id")
	cmd.Flags().StringVar(&s.layer, "layer", "", "layer id")
	cmd.Flags().StringVar(&s.date, "date", "", "imagery date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("layer")
}

func (s *selectionFlags) day() (time.Time, error) {
	if s.date == "" {
		return time.Time{}, nil
	}
	t, err := common.ParseISO8601(s.date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: %w", s.date, err)
	}
	return t, nil
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	var (
		sel      selectionFlags
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the tile source of a layer",
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

			ts, err := e.resolver.GetTileSource(sel.body, sel.layer, day)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(ts); err != nil {
				return err
			}
			if validate {
				ok := e.resolver.ValidateTileSource(cmd.Context(), ts)
				fmt.Fprintf(cmd.OutOrStdout(), "reachable: %t\n", ok)
			}
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&validate, "validate", false, "check that the first tile answers")
	return cmd
}
