package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/wmts"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	var (
		bodyID string
		urls   []string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import WMTS layers and print them as a catalog file",
		Long: "import fetches each capabilities document, converts its first layer into a catalog layer " +
			"and prints a catalog extension file that can be passed to --catalog.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(v)
			if err != nil {
				return err
			}
			defer e.Close()

			body, err := e.catalog.Body(bodyID)
			if err != nil {
				return err
			}
			layers := wmts.ImportLayers(cmd.Context(), e.client, urls, common.DataSourceTrek)
			if len(layers) == 0 {
				return errors.New("no layers could be imported")
			}

			f := catalog.File{Bodies: []catalog.CelestialBody{{ID: body.ID, Name: body.Name, Layers: layers}}}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(f); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&bodyID, "body", "", "body the layers belong to")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "capabilities URL (repeatable)")
	_ = cmd.MarkFlagRequired("body")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
