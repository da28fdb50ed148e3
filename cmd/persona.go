package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/personahub/personahub/pkg/frontmatter"
	"github.com/personahub/personahub/pkg/logging"
)

var (
	personaDir     string
	personaVerbose bool

	createName        string
	createDescription string
	createAuthor      string
	createVersion     string
	createModel       string
	createTags        []string
	createBodyFile    string
)

func NewPersonaCmd() *cobra.Command {
	personaCmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage locally stored personas",
	}

	personaCmd.PersistentFlags().StringVar(&personaDir, "dir", "", "Persona store directory (default ~/.personahub/personas)")
	personaCmd.PersistentFlags().BoolVarP(&personaVerbose, "verbose", "v", false, "Verbose logging")

	personaCmd.AddCommand(newPersonaListCmd())
	personaCmd.AddCommand(newPersonaShowCmd())
	personaCmd.AddCommand(newPersonaCreateCmd())
	personaCmd.AddCommand(newPersonaDeleteCmd())

	return personaCmd
}

func newPersonaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored personas",
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(personaVerbose)
			store := openStore(newSecurityStack(), personaDir)

			slugs, err := store.List()
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot list personas")
			}
			for _, slug := range slugs {
				loaded, err := store.Load(slug)
				if err != nil {
					log.Warn().Err(err).Str("slug", slug).Msg("Skipping invalid persona")
					continue
				}
				log.Info().Str("slug", slug).Str("name", loaded.Meta.Name).Str("version", loaded.Meta.Version).Msg("Persona")
			}
		},
	}
}

func newPersonaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Print one persona",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(personaVerbose)
			store := openStore(newSecurityStack(), personaDir)

			loaded, err := store.Load(args[0])
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot load persona")
			}
			log.Info().
				Str("name", loaded.Meta.Name).
				Str("description", loaded.Meta.Description).
				Str("author", loaded.Meta.Author).
				Str("version", loaded.Meta.Version).
				Strs("tags", loaded.Meta.Tags).
				Msg("Persona metadata")
			_, _ = os.Stdout.WriteString(loaded.Body)
		},
	}
}

func newPersonaCreateCmd() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create or update a persona",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(personaVerbose)
			store := openStore(newSecurityStack(), personaDir)

			body, err := os.ReadFile(createBodyFile)
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot read body file")
			}

			meta := frontmatter.Metadata{
				Name:        createName,
				Description: createDescription,
				Author:      createAuthor,
				Version:     createVersion,
				Model:       createModel,
				Tags:        createTags,
			}
			if err := store.Save(args[0], meta, string(body)); err != nil {
				log.Fatal().Err(err).Msg("Cannot save persona")
			}
			log.Info().Str("slug", args[0]).Msg("Persona saved")
		},
	}

	createCmd.Flags().StringVar(&createName, "name", "", "Display name")
	createCmd.Flags().StringVar(&createDescription, "description", "", "Short description")
	createCmd.Flags().StringVar(&createAuthor, "author", "", "Author")
	createCmd.Flags().StringVar(&createVersion, "version", "1.0.0", "Version")
	createCmd.Flags().StringVar(&createModel, "model", "", "Target model")
	createCmd.Flags().StringSliceVar(&createTags, "tag", nil, "Tags, repeatable")
	createCmd.Flags().StringVar(&createBodyFile, "body", "", "File containing the persona body")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("body")

	return createCmd
}

func newPersonaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a persona",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(personaVerbose)
			store := openStore(newSecurityStack(), personaDir)

			if err := store.Delete(args[0]); err != nil {
				log.Fatal().Err(err).Msg("Cannot delete persona")
			}
			log.Info().Str("slug", args[0]).Msg("Persona deleted")
		},
	}
}
