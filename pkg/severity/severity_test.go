package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStringAndParseRoundTrip(t *testing.T) {
	for _, level := range []Severity{None, Low, Medium, High, Critical} {
		parsed, err := Parse(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}

	_, err := Parse("catastrophic")
	assert.Error(t, err)
}

func TestOrdering(t *testing.T) {
	assert.True(t, Critical > High)
	assert.True(t, High > Medium)
	assert.True(t, Medium > Low)
	assert.True(t, Low > None)

	assert.Equal(t, Critical, Max(Low, Critical))
	assert.Equal(t, High, Max(High, Medium))
}

func TestYAMLRoundTrip(t *testing.T) {
	type doc struct {
		Level Severity `yaml:"level"`
	}

	var decoded doc
	require.NoError(t, yaml.Unmarshal([]byte("level: high\n"), &decoded))
	assert.Equal(t, High, decoded.Level)

	encoded, err := yaml.Marshal(doc{Level: Critical})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "critical")

	assert.Error(t, yaml.Unmarshal([]byte("level: bogus\n"), &decoded))
}
