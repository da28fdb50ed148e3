package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/personahub/personahub/pkg/audit"
	"github.com/personahub/personahub/pkg/config"
	"github.com/personahub/personahub/pkg/logging"
)

var auditOptions = config.DefaultAuditOptions()

var (
	auditMaxFileSizeStr string
	auditVerbose        bool
)

func NewAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit [target]",
		Short: "Statically audit a source tree for security findings",
		Long:  "Runs the code-pattern, secret, dependency and configuration scanners over a source tree, filters findings through the suppression file and fails when unsuppressed critical findings remain.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runAudit,
	}

	auditCmd.Flags().StringVar(&auditOptions.Root, "root", "", "Explicit project root for suppression path matching, auto-detected when empty")
	auditCmd.Flags().StringVarP(&auditOptions.SuppressionsFile, "suppressions", "s", "", "Suppression config file (YAML or JSON5)")
	auditCmd.Flags().StringVarP(&auditOptions.Format, "format", "f", "console", "Report format: console, json or sarif")
	auditCmd.Flags().StringVarP(&auditOptions.Output, "output", "o", "", "Write the report to a file instead of stdout")
	auditCmd.Flags().IntVarP(&auditOptions.Threads, "threads", "t", auditOptions.Threads, "Parallel file scan workers")
	auditCmd.Flags().StringVar(&auditMaxFileSizeStr, "max-file-size", "10MB", "Skip files larger than this")
	auditCmd.Flags().BoolVar(&auditOptions.SecretScan, "secrets", true, "Run the secret detector corpus")
	auditCmd.Flags().BoolVarP(&auditVerbose, "verbose", "v", false, "Verbose logging")

	return auditCmd
}

func runAudit(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(auditVerbose)

	maxFileSize, err := config.ParseHumanSize(auditMaxFileSizeStr, "max file size")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --max-file-size")
	}
	auditOptions.MaxFileSize = maxFileSize

	if err := auditOptions.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid audit options")
	}

	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	root, err := audit.DetectRoot(auditOptions.Root, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot resolve project root")
	}

	suppressions, err := loadSuppressions(auditOptions.SuppressionsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load suppressions")
	}

	scanners := []audit.Scanner{
		audit.NewCodePatternScanner(audit.BuiltinRules(), auditOptions.Threads),
		audit.NewDependencyScanner(),
		audit.NewConfigScanner(),
	}
	if auditOptions.SecretScan {
		scanners = append(scanners, audit.NewSecretScanner(auditOptions.Threads, false))
	}

	auditor := audit.NewAuditor(scanners, suppressions, auditOptions.MaxFileSize)

	go logging.ShortcutListeners(func() *zerolog.Event {
		return log.Info().Str("state", auditor.State().String())
	})

	report, runErr := auditor.Run(context.Background(), root, target)
	if report == nil {
		log.Fatal().Err(runErr).Msg("Audit failed")
	}

	if err := renderReport(report); err != nil {
		log.Fatal().Err(err).Msg("Failed rendering report")
	}

	if errors.Is(runErr, audit.ErrCriticalFindings) {
		log.Error().Msg("Unsuppressed critical findings present")
		os.Exit(1)
	}
}

func loadSuppressions(path string) (*audit.SuppressionEngine, error) {
	if path == "" {
		return audit.NewSuppressionEngine(nil)
	}
	return audit.LoadSuppressions(path)
}

func renderReport(report *audit.Report) error {
	out := os.Stdout
	if auditOptions.Output != "" {
		file, err := os.Create(auditOptions.Output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	switch auditOptions.Format {
	case "json":
		return report.WriteJSON(out)
	case "sarif":
		return report.WriteSARIF(out)
	default:
		return report.WriteConsole(out)
	}
}
