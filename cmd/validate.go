package cmd

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/personahub/personahub/pkg/logging"
)

var (
	validateContext string
	validateVerbose bool
)

func NewValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a piece of content against the pattern library",
		Long:  "Runs one file (or stdin when no file is given) through unicode normalization and the threat pattern library, printing the verdict. Exits non-zero when the content is rejected.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runValidate,
	}

	validateCmd.Flags().StringVarP(&validateContext, "context", "c", "cli", "Context tag recorded with the validation decision")
	validateCmd.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "Verbose logging")

	return validateCmd
}

func runValidate(cmd *cobra.Command, args []string) {
	logging.SetLogLevel(validateVerbose)

	var content []byte
	var err error
	if len(args) > 0 {
		content, err = os.ReadFile(args[0])
	} else {
		content, err = io.ReadAll(io.LimitReader(os.Stdin, 10<<20))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read content")
	}

	stack := newSecurityStack()
	verdict := stack.validator.Validate(string(content), validateContext)

	issues := make([]string, 0, len(verdict.Issues))
	for _, issue := range verdict.Issues {
		issues = append(issues, string(issue))
	}

	event := log.Info()
	if err := stack.validator.Err(verdict); err != nil {
		event = log.Error()
	}
	event.
		Str("severity", verdict.Severity.String()).
		Strs("matchedPatterns", verdict.MatchedPatterns).
		Strs("issues", issues).
		Msg("Validation verdict")

	if err := stack.validator.Err(verdict); err != nil {
		os.Exit(1)
	}
	if verdict.Sanitized != string(content) {
		log.Warn().Msg("Content was sanitized, printing cleaned form")
	}
	_, _ = os.Stdout.WriteString(verdict.Sanitized)
}
