// Package persona stores persona documents on disk. Every path goes
// through the path guard, every piece of content through the
// validators, and writes are atomic so concurrent readers never see a
// partial file.
package persona

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/personahub/personahub/pkg/frontmatter"
	"github.com/personahub/personahub/pkg/guard"
	"github.com/personahub/personahub/pkg/validate"
)

// Persona is one stored persona: validated metadata plus the markdown
// body.
type Persona struct {
	Slug string
	Meta frontmatter.Metadata
	Body string
}

var (
	ErrNotFound    = errors.New("persona not found")
	ErrInvalidSlug = errors.New("invalid persona slug")
)

// slugPattern keeps slugs filesystem- and URL-safe. Lowercase only so
// case-insensitive filesystems cannot alias two personas.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

const fileExtension = ".md"

// Store reads and writes persona files under a single root directory.
type Store struct {
	root      string
	pathGuard *guard.PathGuard
	parser    *frontmatter.Parser
	validator *validate.Validator
}

func NewStore(root string, pathGuard *guard.PathGuard, parser *frontmatter.Parser, validator *validate.Validator) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed creating persona root: %w", err)
	}
	return &Store{root: root, pathGuard: pathGuard, parser: parser, validator: validator}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

func validSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

func (s *Store) resolve(slug string) (string, error) {
	if err := validSlug(slug); err != nil {
		return "", err
	}
	return s.pathGuard.Resolve(slug+fileExtension, s.root)
}

// Save validates and persists one persona. The body is validated
// before write; metadata validation happens when the composed document
// is re-parsed, so what lands on disk is exactly what a later Load
// will accept.
func (s *Store) Save(slug string, meta frontmatter.Metadata, body string) error {
	path, err := s.resolve(slug)
	if err != nil {
		return err
	}

	verdict := s.validator.Validate(body, "persona-body")
	if err := s.validator.Err(verdict); err != nil {
		return err
	}

	document, err := compose(meta, verdict.Sanitized)
	if err != nil {
		return err
	}

	if _, _, err := s.parser.Parse(document); err != nil {
		return fmt.Errorf("persona %s failed validation: %w", slug, err)
	}

	if err := guard.AtomicWrite(path, document, 0o600); err != nil {
		return fmt.Errorf("failed writing persona %s: %w", slug, err)
	}
	log.Debug().Str("slug", slug).Msg("Persona saved")
	return nil
}

// Load reads and validates one persona.
func (s *Store) Load(slug string) (*Persona, error) {
	path, err := s.resolve(slug)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
		}
		return nil, err
	}

	meta, body, err := s.parser.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("persona %s failed validation: %w", slug, err)
	}
	return &Persona{Slug: slug, Meta: *meta, Body: body}, nil
}

// Delete removes one persona.
func (s *Store) Delete(slug string) error {
	path, err := s.resolve(slug)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, slug)
		}
		return err
	}
	log.Debug().Str("slug", slug).Msg("Persona deleted")
	return nil
}

// List returns the slugs of every stored persona, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	slugs := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExtension) {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), fileExtension)
		if validSlug(slug) == nil {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// compose renders a persona document: front-matter block plus body.
func compose(meta frontmatter.Metadata, body string) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("---\n")

	encoded, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed encoding metadata: %w", err)
	}
	sb.Write(encoded)
	sb.WriteString("---\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}
