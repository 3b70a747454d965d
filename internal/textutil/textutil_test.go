package textutil

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"hello world", []string{"hello", "world"}},
		{"user_name", []string{"user_name"}},
		{"email@example.com", []string{"email", "@", "example", ".", "com"}},
		{"", nil},
		{"  spaces  ", []string{"spaces"}},
		{"café résumé", []string{"café", "résumé"}},
		{"Hello, world!", []string{"Hello", ",", "world", "!"}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNumberPattern(t *testing.T) {
	tests := []struct {
		input string
		ratio float64
		want  string
	}{
		{"12345", 0.3, "XXXXX"},
		{"abc123", 0.3, "CCCXXX"},
		{"abc", 0.3, ""},
		{"", 0.3, ""},
		{"12-34", 0.3, "XX-XX"},
		{"a1b2c3", 0.3, "CXCXCX"},
	}
	for _, tt := range tests {
		got := NumberPattern(tt.input, tt.ratio)
		if got != tt.want {
			t.Errorf("NumberPattern(%q, %v) = %q, want %q", tt.input, tt.ratio, got, tt.want)
		}
	}
}

func TestNormalizeWhitespaces(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello\nworld", "hello world"},
		{"hello\r\nworld", "hello world"},
		{"a  b   c", "a b c"},
	}
	for _, tt := range tests {
		got := NormalizeWhitespaces(tt.input)
		if got != tt.want {
			t.Errorf("NormalizeWhitespaces(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestShape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"McDonald's", "AaAa'a"},
		{"2024", "0"},
		{"USA", "A"},
		{"x86", "a0"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Shape(tt.input); got != tt.want {
			t.Errorf("Shape(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAffixes(t *testing.T) {
	pre, suf := Affixes("naïve", 3)
	if !reflect.DeepEqual(pre, []string{"n", "na", "naï"}) {
		t.Errorf("prefixes = %q", pre)
	}
	if !reflect.DeepEqual(suf, []string{"e", "ve", "ïve"}) {
		t.Errorf("suffixes = %q", suf)
	}
	pre, suf = Affixes("ab", 3)
	if len(pre) != 2 || len(suf) != 2 {
		t.Errorf("short token: %q %q", pre, suf)
	}
}

func TestTokenFeatures(t *testing.T) {
	feats := TokenFeatures([]string{"John", "Smith", "42"}, 1)
	if len(feats) != 3 {
		t.Fatalf("%d positions, want 3", len(feats))
	}

	first := feats[0]
	for _, name := range []string{"bias", "w=john", "shape=Aa", "pre=j", "suf=ohn", "is-title", "BOS", "w[+1]=smith"} {
		if first[name] != 1 {
			t.Errorf("first token lacks %q: %v", name, first)
		}
	}
	if _, ok := first["w[-1]=smith"]; ok {
		t.Error("no left neighbor expected for the first token")
	}

	last := feats[2]
	for _, name := range []string{"num=XX", "EOS", "w[-1]=smith", "shape=0"} {
		if last[name] != 1 {
			t.Errorf("last token lacks %q: %v", name, last)
		}
	}
	if _, ok := last["is-title"]; ok {
		t.Error("digits are not title case")
	}

	if got := TokenFeatures(nil, 2); len(got) != 0 {
		t.Errorf("TokenFeatures(nil) = %v", got)
	}
}
