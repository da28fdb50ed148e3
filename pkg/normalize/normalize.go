// Package normalize detects and repairs Unicode abuse in externally
// sourced text: direction overrides, zero-width characters, and
// homograph spoofing via confusable characters.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Issue identifies one class of detected Unicode abuse.
type Issue string

const (
	IssueBidiControl Issue = "bidi-control"
	IssueZeroWidth   Issue = "zero-width"
	IssueConfusable  Issue = "confusable"
	IssueMixedScript Issue = "mixed-script"
)

// bidiControls covers directional override/embed/isolate characters and
// the isolated direction marks.
var bidiControls = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200E, Hi: 0x200F, Stride: 1},
		{Lo: 0x202A, Hi: 0x202E, Stride: 1},
		{Lo: 0x2066, Hi: 0x2069, Stride: 1},
	},
}

// zeroWidth covers invisible characters abused to split detection
// signatures. ZWJ/ZWNJ are deliberately excluded: they are load-bearing
// in emoji sequences and several scripts.
var zeroWidth = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200B, Hi: 0x200B, Stride: 1},
		{Lo: 0x2060, Hi: 0x2060, Stride: 1},
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1},
	},
}

// confusables maps non-Latin characters that are visually
// indistinguishable from ASCII onto their Latin look-alikes. Only this
// subset is ever folded; everything else passes through untouched.
var confusables = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'у': 'y', 'і': 'i', 'ѕ': 's', 'ј': 'j', 'һ': 'h', 'ԁ': 'd',
	'ɡ': 'g', 'ԛ': 'q', 'ԝ': 'w',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X', 'І': 'I',
	'Ѕ': 'S', 'Ј': 'J',
	// Greek
	'ο': 'o', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z',
	'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O',
	'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

// strippable is bidiControls plus zeroWidth; RangeTable entries must
// stay sorted.
var strippable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200B, Hi: 0x200B, Stride: 1},
		{Lo: 0x200E, Hi: 0x200F, Stride: 1},
		{Lo: 0x202A, Hi: 0x202E, Stride: 1},
		{Lo: 0x2060, Hi: 0x2060, Stride: 1},
		{Lo: 0x2066, Hi: 0x2069, Stride: 1},
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1},
	},
}

var stripSet = runes.In(strippable)

// Normalize returns best-effort repaired text plus the detected issue
// kinds. It never fails: on a malformed transform the input is returned
// with whatever issues were already detected. Legitimate multilingual
// text (CJK+Latin, accented Latin, emoji) passes through unchanged.
func Normalize(input string) (string, []Issue) {
	issues := map[Issue]bool{}

	for _, r := range input {
		if unicode.Is(bidiControls, r) {
			issues[IssueBidiControl] = true
		}
		if unicode.Is(zeroWidth, r) {
			issues[IssueZeroWidth] = true
		}
	}

	stripped, _, err := transform.String(transform.Chain(norm.NFC, runes.Remove(stripSet)), input)
	if err != nil {
		stripped = input
	}

	folded := foldConfusableTokens(stripped, issues)
	return folded, sortedIssues(issues)
}

// foldConfusableTokens folds confusable characters inside tokens that
// mix Latin with Cyrillic or Greek look-alikes. Tokens in a single
// script, and Latin mixed with non-confusable scripts (CJK, Arabic,
// Hangul), are left alone.
func foldConfusableTokens(input string, issues map[Issue]bool) string {
	var out strings.Builder
	out.Grow(len(input))

	token := []rune{}
	flush := func() {
		if len(token) == 0 {
			return
		}
		out.WriteString(foldToken(token, issues))
		token = token[:0]
	}

	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			token = append(token, r)
			continue
		}
		flush()
		out.WriteRune(r)
	}
	flush()

	return out.String()
}

func foldToken(token []rune, issues map[Issue]bool) string {
	hasLatin := false
	hasConfusableScript := false
	allFoldable := true

	for _, r := range token {
		switch {
		// Digits and other script-neutral runes fall through: only
		// Latin letters make a token mixed-script.
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
		case unicode.Is(unicode.Cyrillic, r) || unicode.Is(unicode.Greek, r):
			hasConfusableScript = true
			if _, ok := confusables[r]; !ok {
				allFoldable = false
			}
		}
	}

	if !hasLatin || !hasConfusableScript {
		return string(token)
	}

	issues[IssueMixedScript] = true
	if !allFoldable {
		// Mixed script but not a clean look-alike set: flag it and
		// leave the text for the caller to escalate.
		return string(token)
	}

	issues[IssueConfusable] = true
	folded := make([]rune, len(token))
	for i, r := range token {
		if latin, ok := confusables[r]; ok {
			folded[i] = latin
		} else {
			folded[i] = r
		}
	}
	return string(folded)
}

func sortedIssues(set map[Issue]bool) []Issue {
	ordered := []Issue{IssueBidiControl, IssueZeroWidth, IssueConfusable, IssueMixedScript}
	out := []Issue{}
	for _, issue := range ordered {
		if set[issue] {
			out = append(out, issue)
		}
	}
	return out
}
