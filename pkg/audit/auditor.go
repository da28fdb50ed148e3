package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCriticalFindings marks a run that must fail the CI gate: at least
// one critical finding survived suppression filtering.
var ErrCriticalFindings = errors.New("unsuppressed critical findings present")

// State tracks where a run currently is. Exposed for status output.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateFiltering
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateFiltering:
		return "filtering"
	case StateReporting:
		return "reporting"
	default:
		return "idle"
	}
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	".idea":        true,
}

// Auditor orchestrates one run: walk the target tree, hand the file
// set to every scanner, filter findings through the suppression
// engine, and assemble the report. Scanning parallelizes per file
// inside each scanner; filtering and reporting are single-threaded.
type Auditor struct {
	scanners     []Scanner
	suppressions *SuppressionEngine
	maxFileSize  int64

	// state is read from status goroutines while Run mutates it.
	state atomic.Int32
}

func NewAuditor(scanners []Scanner, suppressions *SuppressionEngine, maxFileSize int64) *Auditor {
	if suppressions == nil {
		suppressions, _ = NewSuppressionEngine(nil)
	}
	return &Auditor{scanners: scanners, suppressions: suppressions, maxFileSize: maxFileSize}
}

// State reports the current run phase. Safe to call from other
// goroutines while Run is in flight.
func (a *Auditor) State() State { return State(a.state.Load()) }

func (a *Auditor) setState(s State) { a.state.Store(int32(s)) }

// Run executes one audit. Only files under target are scanned; root is
// the project root findings and suppression globs are resolved against
// and must contain target. The returned report is complete even when
// err is ErrCriticalFindings, so callers can render it before exiting
// non-zero.
func (a *Auditor) Run(ctx context.Context, root, target string) (*Report, error) {
	started := time.Now()
	defer func() { a.setState(StateIdle) }()

	if target == "" {
		target = root
	}

	a.setState(StateScanning)
	files, err := collectFiles(target)
	if err != nil {
		return nil, fmt.Errorf("failed walking %s: %w", target, err)
	}
	log.Debug().Int("files", len(files)).Str("root", root).Str("target", target).Msg("Audit target collected")

	scanTarget := Target{Root: root, Files: files, MaxFileSize: a.maxFileSize}

	raw := []Finding{}
	for _, scanner := range a.scanners {
		findings, err := scanner.Scan(ctx, scanTarget)
		if err != nil {
			return nil, fmt.Errorf("scanner %s failed: %w", scanner.Name(), err)
		}
		log.Debug().Str("scanner", scanner.Name()).Int("findings", len(findings)).Msg("Scanner finished")
		raw = append(raw, findings...)
	}

	a.setState(StateFiltering)
	report := &Report{
		Root:      root,
		StartedAt: started,
		Scanned:   len(files),
	}

	dedup := &deduper{}
	for _, finding := range raw {
		if !dedup.admit(finding) {
			continue
		}
		if suppression, ok := a.suppressions.Match(finding); ok {
			finding.SuppressedBy = fmt.Sprintf("%s on %s: %s", suppression.Rule, suppression.File, suppression.Reason)
			report.Suppressed = append(report.Suppressed, finding)
			continue
		}
		report.Findings = append(report.Findings, finding)
	}

	a.setState(StateReporting)
	report.Duration = time.Since(started).Round(time.Millisecond).String()

	if report.HasCritical() {
		return report, ErrCriticalFindings
	}
	return report, nil
}

// collectFiles walks root gathering regular files, skipping VCS and
// build directories plus hidden files.
func collectFiles(root string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		name := entry.Name()
		if entry.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
