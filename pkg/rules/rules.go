// Package rules holds the threat pattern library evaluated by the
// content validator. Patterns are data, not code: the evaluation loop
// is uniform and the library grows without touching the engine.
package rules

import (
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/personahub/personahub/pkg/redos"
	"github.com/personahub/personahub/pkg/severity"
)

// Category groups patterns by the threat class they detect.
type Category string

const (
	CategoryInjection    Category = "injection"
	CategoryExfiltration Category = "exfiltration"
	CategoryExec         Category = "exec"
	CategoryPath         Category = "path"
	CategoryYAML         Category = "yaml"
	CategoryUnicode      Category = "unicode"
)

// Pattern is one detectable threat signature. Matcher and Profile are
// derived from Source at admission time.
type Pattern struct {
	ID       string            `yaml:"id"`
	Category Category          `yaml:"category"`
	Severity severity.Severity `yaml:"severity"`
	Source   string            `yaml:"regex"`

	Matcher *regexp.Regexp `yaml:"-"`
	Profile redos.Profile  `yaml:"-"`
}

// builtin is the data-driven signature set shipped with the platform.
// Matching is case-insensitive throughout.
var builtin = []Pattern{
	{
		ID:       "system-role-override",
		Category: CategoryInjection,
		Severity: severity.Critical,
		Source:   `(?i)\[\s*(system|admin|assistant|root)\s*:[^\]]{0,256}\]`,
	},
	{
		ID:       "instruction-override",
		Category: CategoryInjection,
		Severity: severity.Critical,
		Source:   `(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`,
	},
	{
		ID:       "persona-switch",
		Category: CategoryInjection,
		Severity: severity.High,
		Source:   `(?i)\byou\s+are\s+now\s+(a|an|the)\s`,
	},
	{
		ID:       "credential-exfiltration",
		Category: CategoryExfiltration,
		Severity: severity.Critical,
		Source:   `(?i)\b(export|send|upload|exfiltrate|leak|dump)\s+(all\s+)?(your\s+)?(tokens?|credentials?|secrets?|api\s?keys?|passwords?)`,
	},
	{
		ID:       "outbound-fetch",
		Category: CategoryExfiltration,
		Severity: severity.High,
		Source:   `(?i)\b(curl|wget|fetch)\s+(-\w+\s+)*https?://`,
	},
	{
		ID:       "shell-metacharacters",
		Category: CategoryExec,
		Severity: severity.Medium,
		Source:   "[;&|`$(){}]",
	},
	{
		ID:       "code-eval",
		Category: CategoryExec,
		Severity: severity.High,
		Source:   `(?i)\b(eval|exec|execfile|subprocess\.run|child_process)\s*\(`,
	},
	{
		ID:       "path-traversal",
		Category: CategoryPath,
		Severity: severity.Medium,
		Source:   `\.\.[/\\]`,
	},
	{
		ID:       "yaml-exec-tag",
		Category: CategoryYAML,
		Severity: severity.Critical,
		Source:   `!!(python|ruby|perl|js)[/:]|!ruby/object|tag:yaml\.org.*:python`,
	},
	{
		ID:       "bidi-control-chars",
		Category: CategoryUnicode,
		Severity: severity.High,
		Source:   `[\x{202A}-\x{202E}\x{2066}-\x{2069}]`,
	},
}

// Builtin returns the compiled builtin library. Patterns failing
// admission would be a programming error, so compilation is checked at
// init.
func Builtin() []Pattern {
	out := make([]Pattern, len(builtin))
	copy(out, builtin)
	return out
}

func init() {
	for i := range builtin {
		compiled, err := admit(&builtin[i])
		if err != nil {
			panic(fmt.Sprintf("builtin pattern %q: %v", builtin[i].ID, err))
		}
		builtin[i] = *compiled
	}
}

// admit compiles a pattern and attaches its complexity profile. A
// pattern the engine cannot compile is rejected; the engine itself
// guarantees linear-time matching, the profile bounds input size.
func admit(p *Pattern) (*Pattern, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("pattern has no id")
	}
	if p.Source == "" {
		return nil, fmt.Errorf("pattern has no regex")
	}

	matcher, err := regexp.Compile(p.Source)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}

	admitted := *p
	admitted.Matcher = matcher
	admitted.Profile = redos.Analyze(p.Source)
	return &admitted, nil
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadFile reads additional patterns from a YAML file and admits each
// one. Any pattern failing admission fails the whole load.
func LoadFile(path string) ([]Pattern, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}

	var file patternFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshalling pattern file: %w", err)
	}

	out := make([]Pattern, 0, len(file.Patterns))
	for i := range file.Patterns {
		admitted, err := admit(&file.Patterns[i])
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		log.Debug().Str("id", admitted.ID).Str("risk", admitted.Profile.Risk.String()).Msg("Admitted pattern")
		out = append(out, *admitted)
	}
	return out, nil
}
