package cmd

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/personahub/personahub/pkg/credential"
	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/registry"
	giteasrc "github.com/personahub/personahub/pkg/registry/gitea"
	githubsrc "github.com/personahub/personahub/pkg/registry/github"
	gitlabsrc "github.com/personahub/personahub/pkg/registry/gitlab"
)

var (
	marketBackend string
	marketURL     string
	marketOwner   string
	marketRepo    string
	marketProject string
	marketRef     string
	marketQuery   string
	marketDir     string
	marketVerbose bool
)

func NewMarketCmd() *cobra.Command {
	marketCmd := &cobra.Command{
		Use:   "market",
		Short: "Browse and install personas from a marketplace",
	}

	marketCmd.PersistentFlags().StringVarP(&marketBackend, "backend", "b", "github", "Marketplace backend: github, gitlab or gitea")
	marketCmd.PersistentFlags().StringVar(&marketURL, "url", "", "Base URL for gitlab/gitea backends")
	marketCmd.PersistentFlags().StringVar(&marketOwner, "owner", "", "Repository owner (github/gitea)")
	marketCmd.PersistentFlags().StringVar(&marketRepo, "repo", "", "Repository name (github/gitea)")
	marketCmd.PersistentFlags().StringVar(&marketProject, "project", "", "Project path (gitlab)")
	marketCmd.PersistentFlags().StringVar(&marketRef, "ref", "main", "Branch to read from")
	marketCmd.PersistentFlags().StringVar(&marketDir, "dir", "", "Persona store directory")
	marketCmd.PersistentFlags().BoolVarP(&marketVerbose, "verbose", "v", false, "Verbose logging")

	marketCmd.AddCommand(newMarketListCmd())
	marketCmd.AddCommand(newMarketInstallCmd())

	return marketCmd
}

// marketToken reads the bearer token from the environment. The token
// is optional for public marketplaces.
func marketToken() string {
	raw, cred, err := credential.FromEnv()
	if errors.Is(err, credential.ErrNoCredential) {
		return ""
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid credential in environment")
	}
	log.Debug().Str("credential", cred.Prefix).Str("kind", string(cred.Kind)).Msg("Using bearer token")
	return raw
}

func marketSource(stack *securityStack) registry.Source {
	token := marketToken()

	switch marketBackend {
	case "github":
		return githubsrc.New(token, marketOwner, marketRepo, stack.validator, stack.limiter)
	case "gitlab":
		source, err := gitlabsrc.New(marketURL, token, marketProject, marketRef, stack.validator, stack.limiter)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot create gitlab source")
		}
		return source
	case "gitea":
		source, err := giteasrc.New(marketURL, token, marketOwner, marketRepo, marketRef, stack.validator, stack.limiter)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot create gitea source")
		}
		return source
	default:
		log.Fatal().Str("backend", marketBackend).Msg("Unknown marketplace backend")
		return nil
	}
}

func newMarketListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List marketplace personas",
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(marketVerbose)
			stack := newSecurityStack()
			source := marketSource(stack)

			entries, err := source.List(context.Background(), marketQuery)
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot list marketplace")
			}
			for _, entry := range entries {
				log.Info().
					Str("slug", entry.Slug).
					Str("name", entry.Name).
					Str("version", entry.Version).
					Str("author", entry.Author).
					Msg("Marketplace persona")
			}
		},
	}
	listCmd.Flags().StringVarP(&marketQuery, "query", "q", "", "Filter by slug or name")
	return listCmd
}

func newMarketInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <slug>",
		Short: "Install a marketplace persona into the local store",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.SetLogLevel(marketVerbose)
			stack := newSecurityStack()
			store := openStore(stack, marketDir)
			source := marketSource(stack)

			ctx := context.Background()
			entries, err := source.List(ctx, args[0])
			if err != nil {
				log.Fatal().Err(err).Msg("Cannot list marketplace")
			}

			for _, entry := range entries {
				if entry.Slug != args[0] {
					continue
				}
				content, err := source.Fetch(ctx, entry)
				if err != nil {
					log.Fatal().Err(err).Msg("Cannot fetch persona")
				}
				meta, body, err := stack.parser.Parse(content)
				if err != nil {
					log.Fatal().Err(err).Msg("Downloaded persona failed validation")
				}
				if err := store.Save(entry.Slug, *meta, body); err != nil {
					log.Fatal().Err(err).Msg("Cannot save persona")
				}
				log.Info().Str("slug", entry.Slug).Msg("Persona installed")
				return
			}
			log.Fatal().Str("slug", args[0]).Msg("Persona not found in marketplace")
		},
	}
}
