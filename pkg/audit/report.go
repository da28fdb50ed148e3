package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/term"

	"github.com/personahub/personahub/pkg/severity"
)

// Report is the immutable result of one audit run. Reporters render it
// without re-running any scanner.
type Report struct {
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"startedAt"`
	Duration   string    `json:"duration"`
	Scanned    int       `json:"scannedFiles"`
	Findings   []Finding `json:"findings"`
	Suppressed []Finding `json:"suppressed"`
}

// CountBySeverity tallies live findings per severity label.
func (r *Report) CountBySeverity() map[string]int {
	counts := map[string]int{}
	for _, finding := range r.Findings {
		counts[finding.Severity]++
	}
	return counts
}

// HasCritical reports whether any unsuppressed critical finding exists.
func (r *Report) HasCritical() bool {
	for _, finding := range r.Findings {
		if finding.Severity == severity.Critical.String() {
			return true
		}
	}
	return false
}

// severityRank orders findings for display, worst first.
func severityRank(label string) int {
	parsed, err := severity.Parse(label)
	if err != nil {
		return -1
	}
	return int(parsed)
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if a, b := severityRank(findings[i].Severity), severityRank(findings[j].Severity); a != b {
			return a > b
		}
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
}

// WriteConsole renders the report for humans. Severity labels are
// colored when out is a terminal.
func (r *Report) WriteConsole(out *os.File) error {
	colored := term.IsTerminal(int(out.Fd()))
	paint := func(label string) string {
		if !colored {
			return label
		}
		switch label {
		case "critical":
			return "\x1b[1;31m" + label + "\x1b[0m"
		case "high":
			return "\x1b[31m" + label + "\x1b[0m"
		case "medium":
			return "\x1b[33m" + label + "\x1b[0m"
		default:
			return "\x1b[36m" + label + "\x1b[0m"
		}
	}

	findings := make([]Finding, len(r.Findings))
	copy(findings, r.Findings)
	sortFindings(findings)

	fmt.Fprintf(out, "Audit of %s: %d files scanned in %s\n\n", r.Root, r.Scanned, r.Duration)
	for _, finding := range findings {
		fmt.Fprintf(out, "[%s] %s %s:%d\n", paint(finding.Severity), finding.RuleID, finding.File, finding.Line)
		fmt.Fprintf(out, "    %s\n", finding.Message)
		if finding.Snippet != "" {
			fmt.Fprintf(out, "    > %s\n", finding.Snippet)
		}
	}

	counts := r.CountBySeverity()
	fmt.Fprintf(out, "\n%d findings (%d critical, %d high, %d medium, %d low), %d suppressed\n",
		len(r.Findings), counts["critical"], counts["high"], counts["medium"], counts["low"], len(r.Suppressed))
	return nil
}

// WriteJSON renders the full report, suppressed findings included.
func (r *Report) WriteJSON(out io.Writer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// SARIF 2.1.0 document structure, the subset security dashboards
// consume.
type sarifDocument struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri"`
	Version        string      `json:"version"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

func sarifLevel(label string) string {
	switch label {
	case "critical", "high":
		return "error"
	case "medium":
		return "warning"
	default:
		return "note"
	}
}

// WriteSARIF renders live findings as a SARIF 2.1.0 document.
// Suppressed findings are omitted; dashboards treat every result as
// actionable.
func (r *Report) WriteSARIF(out io.Writer) error {
	ruleIndex := map[string]bool{}
	rules := []sarifRule{}
	results := []sarifResult{}

	findings := make([]Finding, len(r.Findings))
	copy(findings, r.Findings)
	sortFindings(findings)

	for _, finding := range findings {
		if !ruleIndex[finding.RuleID] {
			ruleIndex[finding.RuleID] = true
			rules = append(rules, sarifRule{
				ID:               finding.RuleID,
				ShortDescription: sarifMessage{Text: finding.Message},
			})
		}
		results = append(results, sarifResult{
			RuleID:  finding.RuleID,
			Level:   sarifLevel(finding.Severity),
			Message: sarifMessage{Text: finding.Message},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: finding.File},
					Region:           sarifRegion{StartLine: finding.Line},
				},
			}},
		})
	}

	document := sarifDocument{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "personahub-audit",
				InformationURI: "https://github.com/personahub/personahub",
				Version:        "1.0.0",
				Rules:          rules,
			}},
			Results: results,
		}},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(document)
}
