package severity

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is the shared classification used by content validation
// verdicts and static audit findings.
type Severity int

const (
	None Severity = iota
	Low
	Medium
	High
	Critical
)

var names = map[Severity]string{
	None:     "none",
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

func (s Severity) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Parse converts a severity name into a Severity. Matching is
// case-insensitive.
func Parse(value string) (Severity, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for sev, name := range names {
		if name == needle {
			return sev, nil
		}
	}
	return None, fmt.Errorf("unknown severity %q", value)
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := Parse(value.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
