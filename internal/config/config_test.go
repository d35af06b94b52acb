package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMaxEmbedFileBytes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty falls back", "", DefaultMaxEmbedFileBytes},
		{"non-numeric falls back", "lots", DefaultMaxEmbedFileBytes},
		{"zero falls back", "0", DefaultMaxEmbedFileBytes},
		{"negative falls back", "-100", DefaultMaxEmbedFileBytes},
		{"NaN falls back", "NaN", DefaultMaxEmbedFileBytes},
		{"Infinity falls back", "Inf", DefaultMaxEmbedFileBytes},
		{"positive integer kept", "1000", 1000},
		{"fractional floored", "1000.9", 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseMaxEmbedFileBytes(tc.in))
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", normalizeBaseURL("  https://api.openai.com/v1/// "))
	assert.Equal(t, "", normalizeBaseURL(""))
}

func TestParseBackend(t *testing.T) {
	assert.Equal(t, BackendLocal, parseBackend("local"))
	assert.Equal(t, BackendAPI, parseBackend(" API "))
	assert.Equal(t, BackendUnknown, parseBackend("weird"))
}
