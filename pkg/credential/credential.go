// Package credential validates, redacts and scope-checks bearer tokens.
// Full token values are held in memory only and never appear in logs,
// error strings or persisted state.
package credential

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// TokenEnvVar is the only supported credential source. File-based and
// command-line token input is deliberately not accepted.
const TokenEnvVar = "PERSONAHUB_TOKEN"

var ErrNoCredential = errors.New("no credential present")

// Kind identifies which issuer shape a token has.
type Kind string

const (
	KindPersonaHub Kind = "personahub"
	KindGitHub     Kind = "github"
	KindGitLab     Kind = "gitlab"
)

// kindFormats are anchored and free of backtracking hazards.
var kindFormats = map[Kind]*regexp.Regexp{
	KindPersonaHub: regexp.MustCompile(`^phb_[A-Za-z0-9]{32,64}$`),
	KindGitHub:     regexp.MustCompile(`^(?:ghp|gho|ghs|ghr)_[A-Za-z0-9]{36,255}$`),
	KindGitLab:     regexp.MustCompile(`^glpat-[A-Za-z0-9_\-]{20,64}$`),
}

// credentialShapes match token-like substrings inside arbitrary text,
// for redaction in SafeErrorMessage. Broader than kindFormats on
// purpose: over-redacting an error message is harmless, leaking is not.
var credentialShapes = []*regexp.Regexp{
	regexp.MustCompile(`phb_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`gh[oprs]_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`glpat-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]{16,}`),
}

// Credential is an in-memory token handle. The struct carries only the
// redacted prefix; the raw value stays with the caller.
type Credential struct {
	Prefix string
	Kind   Kind
	Scopes []string
}

// FromEnv reads the bearer token from the environment. Returns
// ErrNoCredential when the variable is unset or empty, and an error
// when the value does not match any known token shape.
func FromEnv() (string, *Credential, error) {
	raw := strings.TrimSpace(os.Getenv(TokenEnvVar))
	if raw == "" {
		return "", nil, ErrNoCredential
	}

	kind, ok := DetectKind(raw)
	if !ok {
		return "", nil, fmt.Errorf("%s does not contain a recognized token format", TokenEnvVar)
	}

	return raw, &Credential{Prefix: Redact(raw), Kind: kind}, nil
}

// DetectKind reports which issuer shape a token has.
func DetectKind(token string) (Kind, bool) {
	for kind, format := range kindFormats {
		if format.MatchString(token) {
			return kind, true
		}
	}
	return "", false
}

// ValidateFormat reports whether token matches the expected shape for
// the given kind.
func ValidateFormat(token string, kind Kind) bool {
	format, ok := kindFormats[kind]
	if !ok {
		return false
	}
	return format.MatchString(token)
}

// Redact returns the first and last four characters of a token joined
// by an ellipsis. Tokens too short to redact safely are masked
// entirely.
func Redact(token string) string {
	if len(token) < 12 {
		return "[REDACTED]"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SafeErrorMessage strips credential-shaped substrings from raw before
// it is surfaced or logged. The extra token parameter covers values
// that do not match any known shape; pass "" when none is at hand.
func SafeErrorMessage(raw string, token string) string {
	msg := raw
	if token != "" {
		msg = strings.ReplaceAll(msg, token, Redact(token))
	}
	for _, shape := range credentialShapes {
		msg = shape.ReplaceAllStringFunc(msg, Redact)
	}
	return msg
}
