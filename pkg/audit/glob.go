package audit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/personahub/personahub/pkg/redos"
)

// GlobToRegex converts a path glob into an anchored regular
// expression. Every regex metacharacter is escaped first and the
// `**`/`*`/`?` tokens re-expanded afterwards, so the conversion itself
// can never introduce backtracking hazards. The result is still run
// through the complexity analyzer as a backstop.
func GlobToRegex(glob string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(glob)

	expanded := quoted
	expanded = strings.ReplaceAll(expanded, `\*\*/`, `(?:.*/)?`)
	expanded = strings.ReplaceAll(expanded, `\*\*`, `.*`)
	expanded = strings.ReplaceAll(expanded, `\*`, `[^/]*`)
	expanded = strings.ReplaceAll(expanded, `\?`, `[^/]`)

	source := "^" + expanded + "$"
	if profile := redos.Analyze(source); profile.Risk == redos.RiskHigh {
		return nil, fmt.Errorf("glob %q expands to a high-risk regex", glob)
	}

	compiled, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("glob %q does not compile: %w", glob, err)
	}
	return compiled, nil
}
