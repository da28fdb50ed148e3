package audit

import (
	"context"
	"os"
	"slices"
	"strings"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"

	"github.com/personahub/personahub/pkg/validate"
)

// Target is the file set one scan run covers. Paths are absolute;
// Root anchors suppression-relative paths.
type Target struct {
	Root        string
	Files       []string
	MaxFileSize int64
}

// Scanner produces raw findings for a target. Implementations must be
// safe to run concurrently with other scanners; file access is
// read-only.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, target Target) ([]Finding, error)
}

// readTextFile loads a file for scanning, skipping binaries and
// anything over the size cap. A nil return means skip.
func readTextFile(path string, maxSize int64) []byte {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	if maxSize > 0 && info.Size() > maxSize {
		log.Debug().Str("file", path).Int64("size", info.Size()).Msg("Skipping oversized file")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Skipping unreadable file")
		return nil
	}

	if kind, _ := filetype.Match(data); kind != filetype.Unknown {
		return nil
	}
	return data
}

func lineOfOffset(data []byte, offset int) int {
	if offset < 0 || offset > len(data) {
		return 1
	}
	line := 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
		}
	}
	return line
}

// CodePatternScanner evaluates the rule table line by line across the
// target, parallelized per file.
type CodePatternScanner struct {
	Rules   []Rule
	Threads int
}

func NewCodePatternScanner(rules []Rule, threads int) *CodePatternScanner {
	if threads < 1 {
		threads = 1
	}
	return &CodePatternScanner{Rules: rules, Threads: threads}
}

func (s *CodePatternScanner) Name() string { return "code-pattern" }

func (s *CodePatternScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	group := parallel.Collect[[]Finding](parallel.Limited(ctx, s.Threads))

	for _, file := range target.Files {
		group.Go(func(ctx context.Context) ([]Finding, error) {
			data := readTextFile(file, target.MaxFileSize)
			if data == nil {
				return nil, nil
			}
			return s.scanFile(target, file, data), nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func (s *CodePatternScanner) scanFile(target Target, file string, data []byte) []Finding {
	content := string(data)
	lines := strings.Split(content, "\n")

	findings := []Finding{}
	for _, rule := range s.Rules {
		if rule.RequireAbsent != nil && rule.RequireAbsent.MatchString(content) {
			continue
		}
		for i, line := range lines {
			if !rule.Matcher.MatchString(line) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				File:     relativePath(target.Root, file),
				Line:     i + 1,
				Severity: rule.Severity.String(),
				CWE:      rule.CWE,
				Snippet:  validate.CleanSnippet(line),
				Message:  rule.Message,
			})
			if rule.RequireAbsent != nil {
				// Absence heuristics fire once per file, not per line.
				break
			}
		}
	}
	return findings
}
