// Package validate is the mandatory firewall every externally sourced
// string passes through before business logic may store or display it.
package validate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/normalize"
	"github.com/personahub/personahub/pkg/rules"
	"github.com/personahub/personahub/pkg/severity"
)

// Verdict is the outcome of validating one piece of text. Sanitized is
// only populated when the severity stayed below the rejection
// threshold; rejected content is never passed along in degraded form.
type Verdict struct {
	Severity        severity.Severity
	MatchedPatterns []string
	Sanitized       string
	Issues          []normalize.Issue
	Context         string
}

// Rejected reports whether the caller must block this content.
func (v Verdict) Rejected(threshold severity.Severity) bool {
	return v.Severity >= threshold
}

// RejectedError is returned by Err when content crossed the rejection
// threshold. The offending payload is deliberately not echoed.
type RejectedError struct {
	Context  string
	Severity severity.Severity
	Patterns []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("content rejected (%s severity in %s context)", e.Severity, e.Context)
}

var ErrRejected = errors.New("content rejected")

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Severity of Unicode issues contributed to the verdict.
var issueSeverity = map[normalize.Issue]severity.Severity{
	normalize.IssueBidiControl: severity.High,
	normalize.IssueZeroWidth:   severity.Low,
	normalize.IssueConfusable:  severity.Medium,
	normalize.IssueMixedScript: severity.Medium,
}

// DefaultThreshold: high and critical verdicts reject, everything
// below is sanitized.
const DefaultThreshold = severity.High

const defaultEvalTimeout = 5 * time.Second

// Validator evaluates the pattern library against normalized text.
// Pattern tables are immutable after construction, so a single
// instance is safe for concurrent use.
type Validator struct {
	patterns   []rules.Pattern
	threshold  severity.Severity
	secLog     *logging.SecurityLog
	maxWorkers int
	timeout    time.Duration
}

type Option func(*Validator)

func WithThreshold(threshold severity.Severity) Option {
	return func(v *Validator) { v.threshold = threshold }
}

func WithPatterns(patterns []rules.Pattern) Option {
	return func(v *Validator) { v.patterns = patterns }
}

func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxWorkers = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// New builds a Validator over the builtin pattern library. The
// security log handle is injected so tests can assert on isolated
// instances.
func New(secLog *logging.SecurityLog, opts ...Option) *Validator {
	v := &Validator{
		patterns:   rules.Builtin(),
		threshold:  DefaultThreshold,
		secLog:     secLog,
		maxWorkers: 4,
		timeout:    defaultEvalTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Threshold returns the rejection threshold of this instance.
func (v *Validator) Threshold() severity.Severity { return v.threshold }

// maxSanitizePasses bounds the strip-and-reevaluate loop. Stripping a
// low-severity span can expose a signature that was previously broken
// up, so sanitization iterates to a fixpoint instead of trusting a
// single pass.
const maxSanitizePasses = 8

// Validate classifies text from the given context ("persona-body",
// "search-query", ...) into a severity-tagged verdict. Below the
// threshold matched spans are stripped and the sanitized text is
// returned; at or above it the content is rejected outright and
// Sanitized stays empty.
func (v *Validator) Validate(text, contextTag string) Verdict {
	normalized, issues := normalize.Normalize(text)

	verdict := Verdict{
		Severity: severity.None,
		Issues:   issues,
		Context:  contextTag,
	}

	matchedSet := map[string]bool{}
	for _, issue := range issues {
		verdict.Severity = severity.Max(verdict.Severity, issueSeverity[issue])
		matchedSet["unicode:"+string(issue)] = true
	}

	current := normalized
	clean := false
	for pass := 0; pass < maxSanitizePasses; pass++ {
		matches, completed := v.evaluate(current)
		if !completed {
			return v.rejectOnTimeout(verdict, matchedSet)
		}
		if len(matches) == 0 {
			clean = true
			break
		}

		for _, match := range matches {
			verdict.Severity = severity.Max(verdict.Severity, match.Severity)
			matchedSet[match.ID] = true
		}

		if verdict.Severity >= v.threshold {
			verdict.MatchedPatterns = sortedKeys(matchedSet)
			verdict.Sanitized = ""
			v.logDecision(verdict, false)
			return verdict
		}

		for _, match := range matches {
			current = match.Matcher.ReplaceAllString(current, "")
		}
	}
	verdict.MatchedPatterns = sortedKeys(matchedSet)

	if !clean {
		residual, completed := v.evaluate(current)
		if !completed {
			return v.rejectOnTimeout(verdict, matchedSet)
		}
		if len(residual) > 0 {
			// Could not reach a clean fixpoint: fail closed.
			verdict.Severity = severity.Max(verdict.Severity, v.threshold)
			verdict.Sanitized = ""
			v.logDecision(verdict, false)
			return verdict
		}
	}

	verdict.Sanitized = current
	v.logDecision(verdict, true)
	return verdict
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

// rejectOnTimeout fails closed when a pattern pass did not finish in
// time: content that cannot be fully evaluated is never passed along.
func (v *Validator) rejectOnTimeout(verdict Verdict, matchedSet map[string]bool) Verdict {
	verdict.Severity = severity.Max(verdict.Severity, v.threshold)
	matchedSet["timeout:pattern-evaluation"] = true
	verdict.MatchedPatterns = sortedKeys(matchedSet)
	verdict.Sanitized = ""
	v.logDecision(verdict, false)
	return verdict
}

// evaluate runs every pattern against text, each capped at its
// complexity-derived length ceiling, the whole pass bounded by the
// evaluation timeout. The second return is false when the pass timed
// out; matches are only meaningful when it is true.
func (v *Validator) evaluate(text string) ([]rules.Pattern, bool) {
	result := make(chan []rules.Pattern, 1)
	go func() {
		result <- v.evaluateAll(text)
	}()

	select {
	case <-time.After(v.timeout):
		log.Error().Dur("timeout", v.timeout).Msg("Pattern evaluation timed out, rejecting content")
		return nil, false
	case matches := <-result:
		return matches, true
	}
}

func (v *Validator) evaluateAll(text string) []rules.Pattern {
	ctx := context.Background()
	group := parallel.Collect[[]rules.Pattern](parallel.Limited(ctx, v.maxWorkers))

	for _, pattern := range v.patterns {
		group.Go(func(ctx context.Context) ([]rules.Pattern, error) {
			subject := text
			if limit := pattern.Profile.MaxContentLength; len(subject) > limit {
				// Truncate before the matcher ever sees oversized input.
				subject = subject[:limit]
			}

			if !pattern.Matcher.MatchString(subject) {
				return nil, nil
			}
			return []rules.Pattern{pattern}, nil
		})
	}

	collected, err := group.Wait()
	if err != nil {
		log.Error().Stack().Err(err).Msg("Failed waiting for parallel pattern evaluation")
	}
	return slices.Concat(collected...)
}

func (v *Validator) logDecision(verdict Verdict, sanitized bool) {
	if verdict.Severity == severity.None {
		return
	}

	details := "sanitized"
	eventSeverity := verdict.Severity
	if !sanitized {
		details = "rejected"
	}

	if v.secLog != nil {
		v.secLog.Record(logging.Event{
			Type:     logging.EventValidation,
			Severity: eventSeverity,
			Source:   verdict.Context,
			Details:  details,
			Metadata: map[string]string{
				"patterns": strings.Join(verdict.MatchedPatterns, ","),
			},
		})
	}

	log.Debug().
		Str("context", verdict.Context).
		Str("severity", verdict.Severity.String()).
		Strs("patterns", verdict.MatchedPatterns).
		Bool("sanitized", sanitized).
		Msg("Validation decision")
}

// Err converts a verdict into a RejectedError when it crossed the
// threshold, nil otherwise.
func (v *Validator) Err(verdict Verdict) error {
	if !verdict.Rejected(v.threshold) {
		return nil
	}
	return &RejectedError{
		Context:  verdict.Context,
		Severity: verdict.Severity,
		Patterns: verdict.MatchedPatterns,
	}
}

// CleanSnippet prepares matched text for display in logs: ANSI escapes
// stripped, newlines collapsed, length capped.
func CleanSnippet(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = stripansi.Strip(text)
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
