// Package textutil tokenizes text and derives per-token features for
// sequence labeling.
package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var tokenizeRe = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\s\p{L}\p{N}_]`)

// Tokenize splits text into word tokens and single punctuation marks.
func Tokenize(text string) []string {
	return tokenizeRe.FindAllString(text, -1)
}

var (
	newlineRe    = regexp.MustCompile(`[\n\r]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeWhitespaces replaces newlines and multiple whitespace with a single space.
func NormalizeWhitespaces(text string) string {
	text = newlineRe.ReplaceAllString(text, " ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}

// NumberPattern replaces digits with X and letters with C if the digit ratio >= threshold.
// Returns empty string otherwise.
func NumberPattern(text string, ratio float64) string {
	if text == "" {
		return ""
	}

	total := utf8.RuneCountInString(text)
	digitCount := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digitCount++
		}
	}
	if float64(digitCount)/float64(total) < ratio {
		return ""
	}

	var buf strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			buf.WriteRune('X')
		case unicode.IsLetter(r):
			buf.WriteRune('C')
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// Shape maps upper-case letters to A, lower-case to a, digits to 0 and
// collapses repeats: "McDonald's" → "AaAa'a".
func Shape(token string) string {
	var buf strings.Builder
	var last rune
	for _, r := range token {
		c := r
		switch {
		case unicode.IsUpper(r):
			c = 'A'
		case unicode.IsLower(r):
			c = 'a'
		case unicode.IsDigit(r):
			c = '0'
		}
		if c != last {
			buf.WriteRune(c)
			last = c
		}
	}
	return buf.String()
}

// Affixes returns the prefixes and suffixes of token up to maxN runes.
func Affixes(token string, maxN int) (prefixes, suffixes []string) {
	runes := []rune(token)
	for n := 1; n <= maxN && n <= len(runes); n++ {
		prefixes = append(prefixes, string(runes[:n]))
		suffixes = append(suffixes, string(runes[len(runes)-n:]))
	}
	return prefixes, suffixes
}

// TokenFeatures returns the attribute map of every token: identity, shape
// and affixes of the token itself plus the lower-cased tokens within
// window positions on either side.
func TokenFeatures(tokens []string, window int) []map[string]float64 {
	lower := make([]string, len(tokens))
	for i, tok := range tokens {
		lower[i] = strings.ToLower(tok)
	}

	out := make([]map[string]float64, len(tokens))
	for i, tok := range tokens {
		f := map[string]float64{
			"bias":                1,
			"w=" + lower[i]:       1,
			"shape=" + Shape(tok): 1,
		}
		pre, suf := Affixes(lower[i], 3)
		for _, p := range pre {
			f["pre="+p] = 1
		}
		for _, s := range suf {
			f["suf="+s] = 1
		}
		if first, _ := utf8.DecodeRuneInString(tok); unicode.IsUpper(first) {
			f["is-title"] = 1
		}
		if pattern := NumberPattern(tok, 0.3); pattern != "" {
			f["num="+pattern] = 1
		}
		if i == 0 {
			f["BOS"] = 1
		}
		if i == len(tokens)-1 {
			f["EOS"] = 1
		}
		for d := 1; d <= window; d++ {
			if j := i - d; j >= 0 {
				f["w[-"+strconv.Itoa(d)+"]="+lower[j]] = 1
			}
			if j := i + d; j < len(tokens) {
				f["w[+"+strconv.Itoa(d)+"]="+lower[j]] = 1
			}
		}
		out[i] = f
	}
	return out
}
