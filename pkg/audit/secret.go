package audit

import (
	"bytes"
	"context"
	"regexp"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/trufflesecurity/trufflehog/v3/pkg/engine/defaults"
	"github.com/wandb/parallel"

	"github.com/personahub/personahub/pkg/severity"
	"github.com/personahub/personahub/pkg/validate"
)

// fallbackSecretPatterns cover platform-native token shapes the
// detector corpus does not know about.
var fallbackSecretPatterns = []struct {
	name    string
	matcher *regexp.Regexp
}{
	{name: "personahub-token", matcher: regexp.MustCompile(`phb_[A-Za-z0-9]{32,64}`)},
	{name: "private-key-block", matcher: regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
}

// SecretScanner runs the trufflehog detector corpus plus the fallback
// patterns over every file. Verification is off by default so an audit
// run performs no network I/O.
type SecretScanner struct {
	Threads int
	Verify  bool
}

func NewSecretScanner(threads int, verify bool) *SecretScanner {
	if threads < 1 {
		threads = 1
	}
	return &SecretScanner{Threads: threads, Verify: verify}
}

func (s *SecretScanner) Name() string { return "secret" }

func (s *SecretScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	group := parallel.Collect[[]Finding](parallel.Limited(ctx, s.Threads))

	for _, file := range target.Files {
		group.Go(func(ctx context.Context) ([]Finding, error) {
			data := readTextFile(file, target.MaxFileSize)
			if data == nil {
				return nil, nil
			}
			return s.scanFile(ctx, target, file, data), nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func (s *SecretScanner) scanFile(ctx context.Context, target Target, file string, data []byte) []Finding {
	findings := []Finding{}
	relative := relativePath(target.Root, file)

	for _, pattern := range fallbackSecretPatterns {
		for _, hit := range pattern.matcher.FindAllIndex(data, -1) {
			findings = append(findings, Finding{
				RuleID:   "secret:" + pattern.name,
				File:     relative,
				Line:     lineOfOffset(data, hit[0]),
				Severity: severity.Critical.String(),
				CWE:      "CWE-798",
				Snippet:  validate.CleanSnippet(string(data[hit[0]:min(hit[1], hit[0]+64)])),
				Message:  "credential material committed to source",
			})
		}
	}

	for _, detector := range defaults.DefaultDetectors() {
		hits, err := detector.FromData(ctx, s.Verify, data)
		if err != nil {
			log.Trace().Err(err).Str("file", relative).Msg("Secret detector failed")
			continue
		}
		for _, hit := range hits {
			if s.Verify && !hit.Verified {
				continue
			}
			secret := hit.Raw
			if len(hit.RawV2) > 0 {
				secret = hit.RawV2
			}
			findings = append(findings, Finding{
				RuleID:   "secret:" + hit.DetectorType.String(),
				File:     relative,
				Line:     lineOfOffset(data, bytes.Index(data, secret)),
				Severity: severity.Critical.String(),
				CWE:      "CWE-798",
				Snippet:  validate.CleanSnippet(redactSecret(string(secret))),
				Message:  "secret detected by " + hit.DetectorType.String() + " detector",
			})
		}
	}
	return findings
}

// redactSecret keeps enough of the value to locate it without
// reproducing it in the report.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "[REDACTED]"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
