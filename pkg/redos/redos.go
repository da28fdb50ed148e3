// Package redos classifies the backtracking risk of a regular
// expression and derives a safe content-length ceiling for evaluating
// it. Go's regexp engine is linear-time, so the ceiling is a
// defense-in-depth bound on CPU and memory for pathological input
// sizes rather than the primary ReDoS defense.
package redos

import (
	"regexp"
	"regexp/syntax"
)

// Risk classifies a pattern's backtracking hazard level.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Profile is the analyzer verdict: a risk class and the largest content
// length the pattern may be evaluated against.
type Profile struct {
	Risk             Risk
	MaxContentLength int
}

// Length ceilings per risk tier. Higher risk strictly implies a smaller
// ceiling.
const (
	CeilingLow    = 100000
	CeilingMedium = 10000
	CeilingHigh   = 1000
)

// quantifierThreshold is the quantifier count above which a pattern is
// classified medium even without a structural hazard.
const quantifierThreshold = 5

// Textual hazard signatures. The parser folds single-rune alternations
// into character classes, so quantified groups are detected on the
// pattern source before parsing.
var (
	nestedQuantifier      = regexp.MustCompile(`\((?:[^()\\]|\\.)*[+*]\)[+*{]`)
	quantifiedAlternation = regexp.MustCompile(`\((?:[^()\\]|\\.)*\|(?:[^()\\]|\\.)*\)[+*{]`)
)

// Analyze inspects a pattern for backtracking hazards: nested
// quantifiers, quantified alternation, overlapping alternation, and
// unbounded repetition over broad character classes. Unparseable
// patterns (including lookaround, which the engine rejects) are
// classified high.
func Analyze(pattern string) Profile {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return Profile{Risk: RiskHigh, MaxContentLength: CeilingHigh}
	}

	walk := walker{}
	walk.visit(parsed, 0)

	textualHazard := nestedQuantifier.MatchString(pattern) || quantifiedAlternation.MatchString(pattern)

	switch {
	case walk.hazard || textualHazard:
		return Profile{Risk: RiskHigh, MaxContentLength: CeilingHigh}
	case walk.quantifiers > quantifierThreshold:
		return Profile{Risk: RiskMedium, MaxContentLength: CeilingMedium}
	default:
		return Profile{Risk: RiskLow, MaxContentLength: CeilingLow}
	}
}

type walker struct {
	quantifiers int
	hazard      bool
}

// visit walks the parsed tree. quantDepth counts enclosing unbounded
// quantifiers; any quantifier or alternation found beneath one is a
// hazard.
func (w *walker) visit(re *syntax.Regexp, quantDepth int) {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		w.quantifiers++
		if quantDepth > 0 {
			w.hazard = true
		}
		quantDepth++
	case syntax.OpRepeat:
		w.quantifiers++
		if quantDepth > 0 {
			w.hazard = true
		}
		if re.Max < 0 || re.Max > 100 {
			quantDepth++
		}
	case syntax.OpQuest:
		w.quantifiers++
	case syntax.OpAlternate:
		if quantDepth > 0 {
			w.hazard = true
		}
		if branchesOverlap(re) {
			w.hazard = true
		}
	}

	for _, sub := range re.Sub {
		w.visit(sub, quantDepth)
	}
}

// branchesOverlap reports whether two alternation branches can match
// the same leading rune, the precondition for ambiguous-alternation
// blowup on backtracking engines.
func branchesOverlap(re *syntax.Regexp) bool {
	firsts := make([][]rune, 0, len(re.Sub))
	for _, sub := range re.Sub {
		firsts = append(firsts, leadingRunes(sub))
	}

	for i := 0; i < len(firsts); i++ {
		for j := i + 1; j < len(firsts); j++ {
			if runesIntersect(firsts[i], firsts[j]) {
				return true
			}
		}
	}
	return false
}

// leadingRunes approximates the set of runes a subexpression can start
// with, as rune pairs [lo, hi, lo, hi, ...]. An empty result means the
// set could not be determined and is treated as non-overlapping.
func leadingRunes(re *syntax.Regexp) []rune {
	switch re.Op {
	case syntax.OpLiteral:
		if len(re.Rune) > 0 {
			return []rune{re.Rune[0], re.Rune[0]}
		}
	case syntax.OpCharClass:
		return re.Rune
	case syntax.OpConcat:
		if len(re.Sub) > 0 {
			return leadingRunes(re.Sub[0])
		}
	case syntax.OpCapture, syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		if len(re.Sub) > 0 {
			return leadingRunes(re.Sub[0])
		}
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return []rune{0, 0x10FFFF}
	}
	return nil
}

func runesIntersect(a, b []rune) bool {
	for i := 0; i+1 < len(a); i += 2 {
		for j := 0; j+1 < len(b); j += 2 {
			if a[i] <= b[j+1] && b[j] <= a[i+1] {
				return true
			}
		}
	}
	return false
}
