// Package frontmatter parses persona markdown front-matter through a
// restricted YAML schema: no constructor tags, bounded alias
// expansion, and every decoded scalar passed through the content
// validator. Malformed or policy-violating documents fail closed.
package frontmatter

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/severity"
	"github.com/personahub/personahub/pkg/validate"
)

// Metadata is the typed result of parsing persona front-matter. String
// fields hold sanitized values.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Version     string   `yaml:"version"`
	Model       string   `yaml:"model"`
	Tags        []string `yaml:"tags"`
}

var (
	ErrNoFrontMatter  = errors.New("document has no front-matter block")
	ErrForbiddenTag   = errors.New("forbidden YAML tag")
	ErrAliasExpansion = errors.New("alias expansion bound exceeded")
	ErrTooLarge       = errors.New("document exceeds size bounds")
)

const (
	delimiter = "---"

	// Expansion bounds. A document is rejected when the alias count
	// exceeds aliasPerAnchor times the anchor count, or outright caps
	// are hit, before any expansion happens.
	aliasPerAnchor = 10
	maxAliases     = 100
	maxNodes       = 10000
	maxDepth       = 64
)

// allowedTags are the resolved tags a front-matter document may carry.
// Anything implying construction of arbitrary objects is absent by
// design of the allow list.
var allowedTags = map[string]bool{
	"!!str":       true,
	"!!int":       true,
	"!!float":     true,
	"!!bool":      true,
	"!!null":      true,
	"!!seq":       true,
	"!!map":       true,
	"!!timestamp": true,
	"!!merge":     true,
}

// Parser feeds decoded scalars through a content validator before they
// reach the typed metadata object.
type Parser struct {
	validator *validate.Validator
	secLog    *logging.SecurityLog
}

func NewParser(validator *validate.Validator, secLog *logging.SecurityLog) *Parser {
	return &Parser{validator: validator, secLog: secLog}
}

// Parse splits a persona document into validated metadata and the
// remaining markdown body. On any policy violation it returns an error
// and no partial result.
func (p *Parser) Parse(content []byte) (*Metadata, string, error) {
	block, body, err := split(string(content))
	if err != nil {
		return nil, "", err
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(block), &root); err != nil {
		p.reject("yaml-parse-error")
		return nil, "", fmt.Errorf("parsing front-matter: %w", err)
	}

	counter := nodeCounter{}
	if err := counter.check(&root, 0); err != nil {
		p.reject(err.Error())
		return nil, "", err
	}
	if counter.anchors*aliasPerAnchor < counter.aliases || counter.aliases > maxAliases {
		p.reject("alias-expansion")
		return nil, "", fmt.Errorf("%w: %d aliases for %d anchors", ErrAliasExpansion, counter.aliases, counter.anchors)
	}

	var meta Metadata
	if err := root.Decode(&meta); err != nil {
		p.reject("yaml-decode-error")
		return nil, "", fmt.Errorf("decoding front-matter: %w", err)
	}

	if err := p.validateMeta(&meta); err != nil {
		return nil, "", err
	}

	return &meta, body, nil
}

// split separates the leading front-matter block from the body.
func split(content string) (string, string, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, delimiter+"\n") {
		return "", "", ErrNoFrontMatter
	}

	rest := normalized[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return "", "", ErrNoFrontMatter
	}

	block := rest[:end]
	body := rest[end+1+len(delimiter):]
	body = strings.TrimPrefix(body, "\n")
	return block, body, nil
}

type nodeCounter struct {
	nodes   int
	anchors int
	aliases int
}

func (c *nodeCounter) check(node *yaml.Node, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting depth over %d", ErrTooLarge, maxDepth)
	}

	c.nodes++
	if c.nodes > maxNodes {
		return fmt.Errorf("%w: over %d nodes", ErrTooLarge, maxNodes)
	}

	if node.Anchor != "" {
		c.anchors++
	}
	if node.Kind == yaml.AliasNode {
		c.aliases++
	}

	if node.Kind == yaml.ScalarNode || node.Kind == yaml.MappingNode || node.Kind == yaml.SequenceNode {
		if node.Tag != "" && !allowedTags[node.Tag] {
			return fmt.Errorf("%w: %s", ErrForbiddenTag, node.Tag)
		}
	}

	for _, child := range node.Content {
		if err := c.check(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// validateMeta runs every scalar field through the content validator,
// replacing it with the sanitized form or failing the whole parse.
func (p *Parser) validateMeta(meta *Metadata) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"name", &meta.Name},
		{"description", &meta.Description},
		{"author", &meta.Author},
		{"version", &meta.Version},
		{"model", &meta.Model},
	}

	for _, field := range fields {
		verdict := p.validator.Validate(*field.value, "frontmatter:"+field.name)
		if err := p.validator.Err(verdict); err != nil {
			return err
		}
		*field.value = verdict.Sanitized
	}

	for i := range meta.Tags {
		verdict := p.validator.Validate(meta.Tags[i], "frontmatter:tag")
		if err := p.validator.Err(verdict); err != nil {
			return err
		}
		meta.Tags[i] = verdict.Sanitized
	}

	return nil
}

func (p *Parser) reject(reason string) {
	if p.secLog == nil {
		return
	}
	p.secLog.Record(logging.Event{
		Type:     logging.EventParseRejected,
		Severity: severity.High,
		Source:   "frontmatter",
		Details:  reason,
	})
}
