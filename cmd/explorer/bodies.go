package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBodiesCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "bodies",
		Short: "List celestial bodies and their layers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(v)
			if err != nil {
				return err
			}
			defer e.Close()

			bodies := e.catalog.Bodies()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(bodies)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BODY\tLAYER\tSOURCE\tTYPE\tMAX ZOOM")
			for _, b := range bodies {
				for _, l := range b.Layers {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", b.ID, l.ID, l.DataSource, l.EffectiveType(), l.MaxZoom)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
