package audit

import (
	"context"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/personahub/personahub/pkg/severity"
	"github.com/personahub/personahub/pkg/validate"
)

// ConfigScanner walks YAML configuration files looking for dangerous
// settings and credential-bearing values.
type ConfigScanner struct{}

func NewConfigScanner() *ConfigScanner { return &ConfigScanner{} }

func (s *ConfigScanner) Name() string { return "configuration" }

func (s *ConfigScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	findings := []Finding{}
	for _, file := range target.Files {
		ext := strings.ToLower(filepath.Ext(file))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		data := readTextFile(file, target.MaxFileSize)
		if data == nil {
			continue
		}

		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			continue
		}
		findings = append(findings, s.walk(&root, relativePath(target.Root, file), "")...)
	}
	return findings, nil
}

func (s *ConfigScanner) walk(node *yaml.Node, file string, key string) []Finding {
	findings := []Finding{}

	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			findings = append(findings, s.walk(child, file, key)...)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			findings = append(findings, s.walk(node.Content[i+1], file, node.Content[i].Value)...)
		}
	case yaml.ScalarNode:
		findings = append(findings, s.checkScalar(node, file, key)...)
	}
	return findings
}

var secretKeyNames = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "private_key"}

func (s *ConfigScanner) checkScalar(node *yaml.Node, file string, key string) []Finding {
	findings := []Finding{}
	loweredKey := strings.ToLower(key)
	value := node.Value

	for _, name := range secretKeyNames {
		if strings.Contains(loweredKey, name) && value != "" && !strings.HasPrefix(value, "${") && !strings.HasPrefix(value, "$") {
			findings = append(findings, Finding{
				RuleID:   "config-embedded-secret",
				File:     file,
				Line:     node.Line,
				Severity: severity.Critical.String(),
				CWE:      "CWE-798",
				Snippet:  validate.CleanSnippet(key + ": " + redactSecret(value)),
				Message:  "configuration value under a secret-bearing key",
			})
			break
		}
	}

	insecureOn := (loweredKey == "insecure" || loweredKey == "insecure_skip_verify") && value == "true"
	verifyOff := (loweredKey == "tls_verify" || loweredKey == "verify_ssl") && value == "false"
	if insecureOn || verifyOff {
		findings = append(findings, Finding{
			RuleID:   "config-insecure-transport",
			File:     file,
			Line:     node.Line,
			Severity: severity.High.String(),
			CWE:      "CWE-295",
			Snippet:  key + ": " + value,
			Message:  "transport security disabled in configuration",
		})
	}

	if loweredKey == "debug" && value == "true" {
		findings = append(findings, Finding{
			RuleID:   "config-debug-enabled",
			File:     file,
			Line:     node.Line,
			Severity: severity.Low.String(),
			CWE:      "CWE-489",
			Snippet:  key + ": " + value,
			Message:  "debug mode enabled in configuration",
		})
	}
	return findings
}
