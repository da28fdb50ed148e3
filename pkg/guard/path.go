// Package guard confines filesystem access and process execution:
// every persona file path and every external command the platform runs
// passes through here first.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/severity"
)

var ErrPathViolation = errors.New("path escapes allowed root")

// PathGuard canonicalizes candidate paths and confines them to an
// allow-listed root directory.
type PathGuard struct {
	secLog *logging.SecurityLog
}

func NewPathGuard(secLog *logging.SecurityLog) *PathGuard {
	return &PathGuard{secLog: secLog}
}

// Resolve canonicalizes candidate and returns an absolute path
// strictly inside root. Null bytes and any resolution outside root are
// rejected and logged.
func (g *PathGuard) Resolve(candidate, root string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		g.violation(candidate, "null byte in path")
		return "", fmt.Errorf("%w: null byte in candidate", ErrPathViolation)
	}
	if root == "" {
		return "", fmt.Errorf("%w: empty root", ErrPathViolation)
	}

	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("canonicalizing root: %w", err)
	}

	// Resolve symlinks in the root itself so the prefix check compares
	// real locations. The candidate may not exist yet, so only the
	// root goes through EvalSymlinks.
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(absRoot, joined)
	}
	resolved, err := filepath.Abs(filepath.Clean(joined))
	if err != nil {
		return "", fmt.Errorf("canonicalizing candidate: %w", err)
	}

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		g.violation(candidate, "resolves outside root")
		return "", fmt.Errorf("%w: %s", ErrPathViolation, resolved)
	}

	return resolved, nil
}

func (g *PathGuard) violation(candidate, reason string) {
	log.Warn().Str("candidate", candidate).Str("reason", reason).Msg("Path rejected")
	if g.secLog == nil {
		return
	}
	g.secLog.Record(logging.Event{
		Type:     logging.EventPathViolation,
		Severity: severity.High,
		Source:   "pathguard",
		Details:  reason,
	})
}

// AtomicWrite writes data to a temp file in the target directory and
// renames it into place, so concurrent readers never observe a partial
// file. The path must already be resolved through a PathGuard.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
