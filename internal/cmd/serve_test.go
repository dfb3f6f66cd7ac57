package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"bare key defaults workspace", "abc123", map[string]string{"abc123": "default"}},
		{"key with workspace", "abc123:acme", map[string]string{"abc123": "acme"}},
		{
			"mixed list with spaces",
			"abc123:acme, def456 ,ghi789:globex",
			map[string]string{"abc123": "acme", "def456": "default", "ghi789": "globex"},
		},
		{"trailing comma", "abc123:acme,", map[string]string{"abc123": "acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAPIKeys(tt.env))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-te", truncate("exactly-te", 10))
	assert.Equal(t, "longe...", truncate("longer-title", 8))
}
