package audit

import (
	"regexp"

	"github.com/personahub/personahub/pkg/severity"
)

// Rule is one static code check. Matcher is evaluated per line; when
// RequireAbsent is set the rule only fires if no line of the whole
// file matches it, turning the rule into an absence heuristic.
type Rule struct {
	ID            string
	Severity      severity.Severity
	CWE           string
	Message       string
	Matcher       *regexp.Regexp
	RequireAbsent *regexp.Regexp
}

// builtinRules cover the injection, secret and misconfiguration
// classes the platform audits itself for. Patterns stay deliberately
// simple: line-level matching, no cross-file analysis.
var builtinRules = []Rule{
	{
		ID:       "shell-command-injection",
		Severity: severity.Critical,
		CWE:      "CWE-78",
		Message:  "command executed through a shell; spawn the argument vector directly",
		Matcher:  regexp.MustCompile(`exec\.Command\(\s*"(?:sh|bash|cmd)"|os\.system\(|shell\s*=\s*True|execSync\(|child_process`),
	},
	{
		ID:       "code-eval",
		Severity: severity.High,
		CWE:      "CWE-95",
		Message:  "dynamic code evaluation of runtime data",
		Matcher:  regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(|\bexec\s*\(\s*compile\(`),
	},
	{
		ID:       "hardcoded-secret",
		Severity: severity.Critical,
		CWE:      "CWE-798",
		Message:  "credential literal embedded in source",
		Matcher:  regexp.MustCompile(`(?i)(?:api[_-]?key|secret|passwd|password|token)\s*[:=]\s*["'][A-Za-z0-9_\-]{16,}["']`),
	},
	{
		ID:       "insecure-tls",
		Severity: severity.High,
		CWE:      "CWE-295",
		Message:  "certificate verification disabled",
		Matcher:  regexp.MustCompile(`InsecureSkipVerify\s*:\s*true|rejectUnauthorized\s*:\s*false|verify\s*=\s*False`),
	},
	{
		ID:       "weak-hash",
		Severity: severity.Medium,
		CWE:      "CWE-328",
		Message:  "weak hash algorithm used",
		Matcher:  regexp.MustCompile(`"crypto/md5"|"crypto/sha1"|createHash\(["'](?:md5|sha1)["']\)|hashlib\.(?:md5|sha1)\(`),
	},
	{
		ID:       "path-concatenation",
		Severity: severity.Medium,
		CWE:      "CWE-22",
		Message:  "file path built by string concatenation; resolve through the path guard",
		Matcher:  regexp.MustCompile(`(?:ReadFile|WriteFile|os\.Open|readFileSync|writeFileSync|open)\([^)]*(?:\+\s*[a-zA-Z_]|%s)`),
	},
	{
		ID:            "missing-normalization",
		Severity:      severity.Low,
		CWE:           "CWE-176",
		Message:       "external input handled without unicode normalization in this file",
		Matcher:       regexp.MustCompile(`req\.body|FormValue\(|r\.URL\.Query\(|process\.argv`),
		RequireAbsent: regexp.MustCompile(`(?i)normaliz|\bNFC\b`),
	},
	{
		ID:            "missing-audit-log",
		Severity:      severity.Low,
		CWE:           "CWE-778",
		Message:       "security rejection without an audit-log record in this file",
		Matcher:       regexp.MustCompile(`(?i)(?:reject|denied|violation|blocked)`),
		RequireAbsent: regexp.MustCompile(`(?i)securitylog|secLog|audit.?log|\.Record\(`),
	},
}

// BuiltinRules returns a copy of the rule set so callers can extend it
// without mutating the shared table.
func BuiltinRules() []Rule {
	out := make([]Rule, len(builtinRules))
	copy(out, builtinRules)
	return out
}
