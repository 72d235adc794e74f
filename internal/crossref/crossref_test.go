package crossref

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatReference(t *testing.T) {
	assert.Equal(t, "ISIT-250001", FormatReference("ISIT", 2025, 1))
	assert.Equal(t, "ISIT-259999", FormatReference("isit", 2025, 9999))
	assert.Equal(t, "AB-300042", FormatReference("AB", 2030, 42))
}

func TestExtractReferences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "Re: quick question", nil},
		{"bracketed", "Re: Partnership [ISIT-250007]", []string{"ISIT-250007"}},
		{"lowercase", "re: isit-250007 follow up", []string{"ISIT-250007"}},
		{"dedup", "ISIT-250007 and ISIT-250007 and ACME-260001", []string{"ISIT-250007", "ACME-260001"}},
		{"too short", "ISIT-2500", nil},
		{"too long", "ISIT-25000711", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractReferences(tt.text))
		})
	}
}

func TestContainsReference(t *testing.T) {
	assert.True(t, ContainsReference("Hello [ISIT-250001]", "isit-250001"))
	assert.False(t, ContainsReference("Hello", "ISIT-250001"))
}
