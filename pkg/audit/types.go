// Package audit implements the static security auditor: pluggable
// scanners walk a target tree and emit findings, a suppression engine
// filters them, and reporters render the result for humans and CI.
package audit

import (
	"slices"
	"sync"

	"github.com/rxwycdh/rxhash"
)

// Finding is one static-audit result. Findings are unique per
// (rule, file, line) within a run.
type Finding struct {
	RuleID   string `json:"ruleId"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	CWE      string `json:"cwe,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Message  string `json:"message"`

	// SuppressedBy records the matching suppression, empty when the
	// finding is live.
	SuppressedBy string `json:"suppressedBy,omitempty"`
}

type findingKey struct {
	RuleID string
	File   string
	Line   int
}

// deduper drops repeat findings for the same rule/file/line. Instances
// are per-run, so parallel runs never share state.
type deduper struct {
	mu   sync.Mutex
	seen []string
}

func (d *deduper) admit(finding Finding) bool {
	hash, _ := rxhash.HashStruct(findingKey{RuleID: finding.RuleID, File: finding.File, Line: finding.Line})
	d.mu.Lock()
	defer d.mu.Unlock()

	if slices.Contains(d.seen, hash) {
		return false
	}
	d.seen = append(d.seen, hash)
	return true
}
