// Package registry lists and fetches personas from remote
// marketplaces. Every backend implements Source; everything a backend
// returns is validated before a caller may store or display it.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/perimeterx/marshmallow"
	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/validate"
)

// Entry is one listed persona in a marketplace index. Extra carries
// backend-specific fields the core model does not know about.
type Entry struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Version     string `json:"version"`
	DownloadURL string `json:"downloadUrl"`

	Extra map[string]interface{} `json:"-"`
}

// Source is one marketplace backend.
type Source interface {
	Name() string
	List(ctx context.Context, query string) ([]Entry, error)
	Fetch(ctx context.Context, entry Entry) ([]byte, error)
}

// DecodeEntries parses a marketplace index: either a JSON array of
// entries or newline-delimited JSON objects. Unknown fields are kept
// in Extra rather than dropped, so backends can evolve their index
// format without breaking older clients.
func DecodeEntries(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("failed parsing index: %w", err)
		}
	} else {
		for _, line := range bytes.Split(trimmed, []byte{'\n'}) {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				raw = append(raw, json.RawMessage(line))
			}
		}
	}

	entries := []Entry{}
	for _, item := range raw {
		entry := Entry{}
		extra, err := marshmallow.Unmarshal(item, &entry)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping malformed index entry")
			continue
		}
		entry.Extra = extra
		entries = append(entries, entry)
	}
	return entries, nil
}

// SanitizeEntries runs every display field through the content
// validator. Entries with high or critical content are dropped, the
// rest carry sanitized values.
func SanitizeEntries(validator *validate.Validator, source string, entries []Entry) []Entry {
	clean := []Entry{}
	for _, entry := range entries {
		ok := true
		for _, field := range []*string{&entry.Slug, &entry.Name, &entry.Description, &entry.Author, &entry.Version} {
			verdict := validator.Validate(*field, "registry:"+source)
			if err := validator.Err(verdict); err != nil {
				log.Warn().Str("source", source).Str("entry", entry.Slug).Msg("Dropping marketplace entry with malicious metadata")
				ok = false
				break
			}
			*field = verdict.Sanitized
		}
		if ok {
			clean = append(clean, entry)
		}
	}
	return clean
}

// FilterEntries narrows a listing by a case-insensitive substring
// match on slug and name.
func FilterEntries(entries []Entry, query string) []Entry {
	if query == "" {
		return entries
	}
	query = strings.ToLower(query)
	filtered := []Entry{}
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.Slug), query) || strings.Contains(strings.ToLower(entry.Name), query) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// CheckRate applies the shared limiter for one backend operation.
func CheckRate(limiter *ratelimit.Limiter, backend string, operation string) error {
	if limiter == nil {
		return nil
	}
	decision := limiter.Check(fmt.Sprintf("registry:%s:%s", backend, operation))
	if !decision.Allowed {
		return fmt.Errorf("registry %s %s rate limited, retry after %s", backend, operation, decision.RetryAfter)
	}
	return nil
}
