package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuppressionRequiresReason(t *testing.T) {
	_, err := NewSuppressionEngine([]Suppression{
		{Rule: "code-eval", File: "src/**", Reason: ""},
	})
	assert.Error(t, err)

	_, err = NewSuppressionEngine([]Suppression{
		{Rule: "code-eval", File: "src/**", Reason: "   "},
	})
	assert.Error(t, err)
}

func TestSuppressionRequiresFilePattern(t *testing.T) {
	_, err := NewSuppressionEngine([]Suppression{
		{Rule: "code-eval", File: "", Reason: "documented"},
	})
	assert.Error(t, err)
}

func TestWildcardRuleSuppressesOtherRules(t *testing.T) {
	engine, err := NewSuppressionEngine([]Suppression{
		{Rule: "*", File: "test/**", Reason: "test fixtures contain intentional findings"},
		{Rule: "code-eval", File: "test/special.ts", Reason: "reviewed dynamic loader"},
	})
	require.NoError(t, err)

	// A rule not named by any specific entry still falls under the
	// wildcard covering the directory.
	_, suppressed := engine.Match(Finding{RuleID: "weak-hash", File: "test/special.ts"})
	assert.True(t, suppressed)
}

func TestMostSpecificSuppressionWins(t *testing.T) {
	engine, err := NewSuppressionEngine([]Suppression{
		{Rule: "*", File: "test/**", Reason: "broad"},
		{Rule: "code-eval", File: "test/special.ts", Reason: "narrow"},
	})
	require.NoError(t, err)

	matched, ok := engine.Match(Finding{RuleID: "code-eval", File: "test/special.ts"})
	require.True(t, ok)
	assert.Equal(t, "narrow", matched.Reason)

	matched, ok = engine.Match(Finding{RuleID: "code-eval", File: "test/other.ts"})
	require.True(t, ok)
	assert.Equal(t, "broad", matched.Reason)
}

func TestNoMatchOutsidePattern(t *testing.T) {
	engine, err := NewSuppressionEngine([]Suppression{
		{Rule: "*", File: "test/**", Reason: "fixtures"},
	})
	require.NoError(t, err)

	_, ok := engine.Match(Finding{RuleID: "code-eval", File: "src/app.ts"})
	assert.False(t, ok)
}

func TestLoadSuppressionsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suppressions.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
- rule: "*"
  file: "test/**"
  reason: "fixtures carry intentional findings"
- rule: code-eval
  file: "src/loader.ts"
  reason: "reviewed plugin loader"
`), 0o644))

	engine, err := LoadSuppressions(path)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Len())
}

func TestLoadSuppressionsJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suppressions.json5")
	require.NoError(t, os.WriteFile(path, []byte(`[
  // audit exceptions, keep reasons current
  {rule: "*", file: "test/**", reason: "fixtures"},
]`), 0o644))

	engine, err := LoadSuppressions(path)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Len())
}

func TestLoadSuppressionsMissingReasonFailsStartup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suppressions.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
- rule: "*"
  file: "test/**"
`), 0o644))

	_, err := LoadSuppressions(path)
	assert.Error(t, err)
}
