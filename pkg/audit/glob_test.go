package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobToRegex(t *testing.T) {
	tests := []struct {
		name    string
		glob    string
		path    string
		matches bool
	}{
		{name: "exact file", glob: "src/app.ts", path: "src/app.ts", matches: true},
		{name: "exact mismatch", glob: "src/app.ts", path: "src/app.js", matches: false},
		{name: "single star in segment", glob: "src/*.ts", path: "src/app.ts", matches: true},
		{name: "single star stops at slash", glob: "src/*.ts", path: "src/sub/app.ts", matches: false},
		{name: "double star crosses segments", glob: "test/**", path: "test/a/b/c.ts", matches: true},
		{name: "leading double star matches root file", glob: "**/app.ts", path: "app.ts", matches: true},
		{name: "leading double star matches nested", glob: "**/app.ts", path: "a/b/app.ts", matches: true},
		{name: "question mark", glob: "file?.ts", path: "file1.ts", matches: true},
		{name: "question mark excludes slash", glob: "a?b", path: "a/b", matches: false},
		{name: "dot is literal", glob: "app.ts", path: "appxts", matches: false},
		{name: "plus is literal", glob: "a+b.ts", path: "a+b.ts", matches: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := GlobToRegex(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, matcher.MatchString(tt.path))
		})
	}
}

func TestGlobToRegexEscapesMetacharacters(t *testing.T) {
	// A glob full of regex syntax must never be interpreted as regex.
	matcher, err := GlobToRegex("a(b|c)d{1,9}.ts")
	require.NoError(t, err)
	assert.True(t, matcher.MatchString("a(b|c)d{1,9}.ts"))
	assert.False(t, matcher.MatchString("abd.ts"))
}
