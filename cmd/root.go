package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "personahub",
		Short: "Manage, audit and share AI personas safely",
		Long:  "PersonaHub manages AI behavior personas behind a defense-in-depth validation firewall and ships a static security auditor for the platform's own source.",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(NewAuditCmd())
	rootCmd.AddCommand(NewValidateCmd())
	rootCmd.AddCommand(NewPersonaCmd())
	rootCmd.AddCommand(NewMarketCmd())
	rootCmd.AddCommand(NewShareCmd())

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
