package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/personahub/personahub/pkg/severity"
)

// DependencyScanner inspects dependency manifests for unpinned or
// insecurely sourced packages. It only looks at manifests, never at
// lockfile integrity.
type DependencyScanner struct{}

func NewDependencyScanner() *DependencyScanner { return &DependencyScanner{} }

func (s *DependencyScanner) Name() string { return "dependency" }

func (s *DependencyScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	findings := []Finding{}
	for _, file := range target.Files {
		switch filepath.Base(file) {
		case "package.json":
			data := readTextFile(file, target.MaxFileSize)
			if data != nil {
				findings = append(findings, s.scanPackageJSON(target, file, data)...)
			}
		case "go.mod":
			data := readTextFile(file, target.MaxFileSize)
			if data != nil {
				findings = append(findings, s.scanGoMod(target, file, data)...)
			}
		}
	}
	return findings, nil
}

func (s *DependencyScanner) scanPackageJSON(target Target, file string, data []byte) []Finding {
	findings := []Finding{}
	relative := relativePath(target.Root, file)

	for _, section := range []string{"dependencies", "devDependencies"} {
		gjson.GetBytes(data, section).ForEach(func(name, version gjson.Result) bool {
			spec := version.String()
			switch {
			case spec == "*" || spec == "latest" || spec == "":
				findings = append(findings, Finding{
					RuleID:   "unpinned-dependency",
					File:     relative,
					Line:     lineOfOffset(data, int(version.Index)),
					Severity: severity.Medium.String(),
					CWE:      "CWE-1357",
					Snippet:  name.String() + ": " + spec,
					Message:  "dependency version is unpinned",
				})
			case strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "git://"):
				findings = append(findings, Finding{
					RuleID:   "insecure-dependency-source",
					File:     relative,
					Line:     lineOfOffset(data, int(version.Index)),
					Severity: severity.High.String(),
					CWE:      "CWE-494",
					Snippet:  name.String() + ": " + spec,
					Message:  "dependency fetched over an unauthenticated transport",
				})
			}
			return true
		})
	}
	return findings
}

func (s *DependencyScanner) scanGoMod(target Target, file string, data []byte) []Finding {
	findings := []Finding{}
	relative := relativePath(target.Root, file)

	for i, line := range bytes.Split(data, []byte("\n")) {
		trimmed := strings.TrimSpace(string(line))
		if strings.HasPrefix(trimmed, "replace ") && strings.Contains(trimmed, "=>") {
			findings = append(findings, Finding{
				RuleID:   "module-replace-directive",
				File:     relative,
				Line:     i + 1,
				Severity: severity.Low.String(),
				CWE:      "CWE-1357",
				Snippet:  trimmed,
				Message:  "replace directive overrides a published module",
			})
		}
	}
	return findings
}
