package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/share"
)

var (
	shareDir     string
	shareOut     string
	shareVerbose bool
)

func NewShareCmd() *cobra.Command {
	shareCmd := &cobra.Command{
		Use:   "share",
		Short: "Export and import persona bundles",
	}

	shareCmd.PersistentFlags().StringVar(&shareDir, "dir", "", "Persona store directory")
	shareCmd.PersistentFlags().BoolVarP(&shareVerbose, "verbose", "v", false, "Verbose logging")

	shareCmd.AddCommand(newShareExportCmd())
	shareCmd.AddCommand(newShareImportCmd())

	return shareCmd
}

func newShareExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export <slug>...",
		Short: "Export personas as a zip bundle",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(shareVerbose)
			store := openStore(newSecurityStack(), shareDir)

			out, err := os.Create(shareOut)
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot create bundle file")
			}
			defer out.Close()

			if err := share.Export(store, args, out); err != nil {
				log.Fatal().Err(err).Msg("Export failed")
			}
			log.Info().Str("bundle", shareOut).Int("personas", len(args)).Msg("Bundle exported")
		},
	}
	exportCmd.Flags().StringVarP(&shareOut, "output", "o", "personas.zip", "Bundle file to write")
	return exportCmd
}

func newShareImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <url-or-file>",
		Short: "Import personas from a bundle file or share URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(shareVerbose)
			stack := newSecurityStack()
			store := openStore(stack, shareDir)
			importer := share.NewImporter(store, stack.parser, stack.limiter)

			var imported []string
			var err error
			if info, statErr := os.Stat(args[0]); statErr == nil && !info.IsDir() {
				var data []byte
				data, err = os.ReadFile(args[0])
				if err == nil {
					imported, err = importer.ImportBundle(data)
				}
			} else {
				imported, err = importer.ImportURL(context.Background(), args[0])
			}
			if err != nil {
				log.Fatal().Err(err).Msg("Import failed")
			}
			log.Info().Strs("personas", imported).Msg("Import finished")
		},
	}
}
