package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Suppression authorizes excluding one rule/file combination from a
// run. Reason is mandatory; undocumented suppressions fail the load.
type Suppression struct {
	Rule   string `yaml:"rule" json:"rule"`
	File   string `yaml:"file" json:"file"`
	Reason string `yaml:"reason" json:"reason"`
}

type compiledSuppression struct {
	Suppression
	matcher *regexp.Regexp
}

// specificity orders overlapping suppressions: literal path characters
// count double, a concrete rule id beats the wildcard.
func (c compiledSuppression) specificity() int {
	literal := strings.NewReplacer("*", "", "?", "").Replace(c.File)
	score := len(literal) * 2
	if c.Rule != "*" {
		score++
	}
	return score
}

// SuppressionEngine matches findings against the loaded suppression
// list. Entries are read once at startup and immutable afterwards.
type SuppressionEngine struct {
	entries []compiledSuppression
}

// NewSuppressionEngine compiles a suppression list. Any entry with an
// empty reason or an invalid file pattern is a hard error, not a
// silent skip.
func NewSuppressionEngine(suppressions []Suppression) (*SuppressionEngine, error) {
	engine := &SuppressionEngine{}
	for i, entry := range suppressions {
		if strings.TrimSpace(entry.Reason) == "" {
			return nil, fmt.Errorf("suppression %d (rule %q, file %q) has no reason", i, entry.Rule, entry.File)
		}
		if entry.Rule == "" {
			entry.Rule = "*"
		}
		if entry.File == "" {
			return nil, fmt.Errorf("suppression %d (rule %q) has no file pattern", i, entry.Rule)
		}

		matcher, err := GlobToRegex(entry.File)
		if err != nil {
			return nil, fmt.Errorf("suppression %d: %w", i, err)
		}
		engine.entries = append(engine.entries, compiledSuppression{Suppression: entry, matcher: matcher})
	}
	return engine, nil
}

// LoadSuppressions reads a suppression file. YAML is the primary
// format; .json5 configs are accepted for editors that keep audit
// config next to their JS tooling.
func LoadSuppressions(path string) (*SuppressionEngine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading suppression file: %w", err)
	}

	var entries []Suppression
	if strings.EqualFold(filepath.Ext(path), ".json5") || strings.EqualFold(filepath.Ext(path), ".json") {
		err = json5.Unmarshal(raw, &entries)
	} else {
		err = yaml.Unmarshal(raw, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("failed parsing suppression file %s: %w", path, err)
	}

	return NewSuppressionEngine(entries)
}

// Match returns the most specific suppression covering the finding, or
// false when none applies. The file path must already be normalized
// relative to the project root with forward slashes.
func (e *SuppressionEngine) Match(finding Finding) (Suppression, bool) {
	best := -1
	var matched Suppression
	for _, entry := range e.entries {
		if entry.Rule != "*" && entry.Rule != finding.RuleID {
			continue
		}
		if !entry.matcher.MatchString(finding.File) {
			continue
		}
		if score := entry.specificity(); score > best {
			best = score
			matched = entry.Suppression
		}
	}
	return matched, best >= 0
}

// Len reports the number of loaded suppressions.
func (e *SuppressionEngine) Len() int {
	return len(e.entries)
}
