package keywords

import (
	"slices"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "only stop words and short tokens", text: "the cat is on a mat", want: nil},
		{
			name: "frequency wins",
			text: "Photosynthesis converts light. Light energy drives photosynthesis and light reactions.",
			want: []string{"light", "photosynthesis"},
		},
		{
			name: "ties keep first appearance",
			text: "Newton described gravity and motion",
			want: []string{"newton", "described"},
		},
		{
			name: "numeric terms lead ties in ascending order",
			text: "rockets launched 2024 and 1999",
			want: []string{"1999", "2024"},
		},
		{
			name: "frequency beats numeric order",
			text: "orbit orbit 2024 1999",
			want: []string{"orbit", "1999"},
		},
		{
			name: "leading zero is not an index",
			text: "apollo 0042 1969",
			want: []string{"1969", "apollo"},
		},
		{
			name: "beyond index range keeps appearance order",
			text: "kepler 4294967295 4294967294",
			want: []string{"4294967294", "kepler"},
		},
		{
			name: "punctuation stripped",
			text: "Vectors, vectors! Matrices? matrices.",
			want: []string{"vectors", "matrices"},
		},
		{
			name: "stop word about is dropped",
			text: "about about about atoms",
			want: []string{"atoms"},
		},
		{
			name: "whitespace runs",
			text: "  quantum\t\tquantum\n entanglement  ",
			want: []string{"quantum", "entanglement"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Extract(tt.text)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtract_Bounds(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"a an the",
		"mitochondria mitochondria ribosome ribosome nucleus nucleus membrane",
		strings.Repeat("entropy ", 100) + "about with were",
		"!!! ??? ... ,,,",
	}
	for _, in := range inputs {
		got := Extract(in)
		if len(got) > MaxKeywords {
			t.Errorf("Extract(%q) returned %d keywords", in, len(got))
		}
		for _, k := range got {
			if len([]rune(k)) <= minLen {
				t.Errorf("keyword %q too short", k)
			}
			if _, stop := stopWords[k]; stop {
				t.Errorf("keyword %q is a stop word", k)
			}
		}
	}
}

func TestArrayIndex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0", 0, true},
		{"1999", 1999, true},
		{"4294967294", 4294967294, true},
		{"4294967295", 0, false},
		{"007", 0, false},
		{"12a", 0, false},
		{"-12", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := arrayIndex(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("arrayIndex(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
