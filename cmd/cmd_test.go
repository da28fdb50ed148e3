package cmd

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.Logger = zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestNewAuditCmd(t *testing.T) {
	cmd := NewAuditCmd()
	assert.Equal(t, "audit [target]", cmd.Use)
	assert.NotNil(t, cmd.Run)

	err := cmd.ParseFlags([]string{"--format", "sarif", "--suppressions", "s.yml", "--threads", "8"})
	assert.NoError(t, err)

	format, _ := cmd.Flags().GetString("format")
	suppressions, _ := cmd.Flags().GetString("suppressions")
	threads, _ := cmd.Flags().GetInt("threads")
	assert.Equal(t, "sarif", format)
	assert.Equal(t, "s.yml", suppressions)
	assert.Equal(t, 8, threads)
}

func TestNewValidateCmd(t *testing.T) {
	cmd := NewValidateCmd()
	assert.Equal(t, "validate [file]", cmd.Use)

	err := cmd.ParseFlags([]string{"--context", "persona-body"})
	assert.NoError(t, err)
	contextTag, _ := cmd.Flags().GetString("context")
	assert.Equal(t, "persona-body", contextTag)
}

func TestNewPersonaCmd(t *testing.T) {
	cmd := NewPersonaCmd()
	assert.Equal(t, "persona", cmd.Use)

	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "list")
	assert.Contains(t, names, "show")
	assert.Contains(t, names, "create")
	assert.Contains(t, names, "delete")
}

func TestNewMarketCmd(t *testing.T) {
	cmd := NewMarketCmd()
	assert.Equal(t, "market", cmd.Use)

	err := cmd.ParseFlags([]string{"--backend", "gitea", "--url", "https://gitea.example.com"})
	assert.NoError(t, err)
	backend, _ := cmd.Flags().GetString("backend")
	assert.Equal(t, "gitea", backend)
}

func TestNewShareCmd(t *testing.T) {
	cmd := NewShareCmd()
	assert.Equal(t, "share", cmd.Use)

	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "export")
	assert.Contains(t, names, "import")
}
