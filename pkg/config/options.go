package config

import (
	"fmt"

	"github.com/personahub/personahub/pkg/severity"
)

// AuditOptions holds the settings shared by every audit run.
type AuditOptions struct {
	Root             string
	SuppressionsFile string
	Format           string
	Output           string
	Threads          int
	FailThreshold    severity.Severity
	MaxFileSize      int64
	SecretScan       bool
}

// DefaultAuditOptions returns audit options with sensible defaults.
func DefaultAuditOptions() AuditOptions {
	return AuditOptions{
		Format:        "console",
		Threads:       4,
		FailThreshold: severity.High,
		MaxFileSize:   10 * 1000 * 1000,
		SecretScan:    true,
	}
}

// Validate checks the option combination before a run starts.
func (o AuditOptions) Validate() error {
	if err := ValidateThreadCount(o.Threads); err != nil {
		return err
	}
	switch o.Format {
	case "console", "json", "sarif":
	default:
		return fmt.Errorf("unknown report format %q, must be console, json or sarif", o.Format)
	}
	if o.MaxFileSize < 1 {
		return fmt.Errorf("max file size must be positive, got %d", o.MaxFileSize)
	}
	return nil
}
