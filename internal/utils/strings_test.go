package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "tiktok",
			expected: []string{"tiktok"},
		},
		{
			name:     "two values",
			input:    "tiktok, instagram",
			expected: []string{"tiktok", "instagram"},
		},
		{
			name:     "varied spacing",
			input:    "tiktok,  instagram , youtube",
			expected: []string{"tiktok", "instagram", "youtube"},
		},
		{
			name:     "no spaces after comma",
			input:    "linkedin,twitter",
			expected: []string{"linkedin", "twitter"},
		},
		{
			name:     "trailing comma",
			input:    "linkedin,",
			expected: []string{"linkedin"},
		},
		{
			name:     "leading comma",
			input:    ",twitter",
			expected: []string{"twitter"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "comma only",
			input:    ",",
			expected: nil,
		},
		{
			name:     "multiple commas",
			input:    ",,tiktok,,youtube,,",
			expected: []string{"tiktok", "youtube"},
		},
		{
			name:     "value with internal spaces preserved",
			input:    "short form, long form",
			expected: []string{"short form", "long form"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCSV(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseCSV_Idempotent(t *testing.T) {
	firstParse := ParseCSV("tiktok")
	assert.Equal(t, []string{"tiktok"}, firstParse)

	secondParse := ParseCSV(firstParse[0])
	assert.Equal(t, firstParse, secondParse)
}

func TestParseCSV_PreservesInput(t *testing.T) {
	input := "tiktok, instagram"
	originalInput := input

	_ = ParseCSV(input)

	assert.Equal(t, originalInput, input, "input should not be modified")
}
