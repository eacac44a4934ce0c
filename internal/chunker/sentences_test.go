// ABOUTME: Tests for rule-based sentence splitting
// ABOUTME: Covers terminators, abbreviations, decimals, and paragraph breaks
package chunker

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "basic terminators",
			text: "First sentence. Second one! Is this third? Yes.",
			want: []string{"First sentence.", "Second one!", "Is this third?", "Yes."},
		},
		{
			name: "abbreviation does not split",
			text: "Dr. Smith arrived early. She left at noon.",
			want: []string{"Dr. Smith arrived early.", "She left at noon."},
		},
		{
			name: "decimal does not split",
			text: "The value of pi is 3.14 approximately. Everyone knows that.",
			want: []string{"The value of pi is 3.14 approximately.", "Everyone knows that."},
		},
		{
			name: "paragraph break is a boundary",
			text: "First paragraph without a period\n\nSecond paragraph here.",
			want: []string{"First paragraph without a period", "Second paragraph here."},
		},
		{
			name: "single newline is not a boundary",
			text: "A line\ncontinued below.",
			want: []string{"A line continued below."},
		},
		{
			name: "trailing text without terminator",
			text: "Complete sentence. Dangling fragment",
			want: []string{"Complete sentence.", "Dangling fragment"},
		},
		{
			name: "empty input",
			text: "   \n\n  ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSentences() = %q, want %q", got, tt.want)
			}
		})
	}
}
