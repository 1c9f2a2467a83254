package utils

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/pkg/constants"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		header     map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1", "X-Real-IP": "10.0.0.2"}, "10.0.0.3:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.3:80", "198.51.100.7"},
		{"cdn header", map[string]string{"CF-Connecting-IP": "198.51.100.8"}, "10.0.0.3:80", "198.51.100.8"},
		{"peer ipv4", nil, "192.0.2.10:4431", "192.0.2.10"},
		{"peer ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"nothing", nil, "", constants.UnknownClientIP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := make(http.Header)
			for k, v := range tt.header {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h, tt.remoteAddr))
		})
	}
}

func TestCompilePathPattern(t *testing.T) {
	re, err := CompilePathPattern("/api/v2/*")
	require.NoError(t, err)
	assert.True(t, re.MatchString("/api/v2/sports/nba"))
	assert.False(t, re.MatchString("/api/v1/sports"))

	re, err = CompilePathPattern("/api/health")
	require.NoError(t, err)
	assert.True(t, re.MatchString("/api/health"))
	assert.False(t, re.MatchString("/api/healthz"))

	re, err = CompilePathPattern("/files/a.b")
	require.NoError(t, err)
	assert.False(t, re.MatchString("/files/aXb"))
}

func TestValidateStruct(t *testing.T) {
	type rule struct {
		Pattern string `validate:"required,pathpattern"`
		Limit   int    `validate:"gt=0"`
	}

	assert.Nil(t, ValidateStruct(rule{Pattern: "/api/*", Limit: 1}))

	err := ValidateStruct(rule{Pattern: "api", Limit: 0})
	require.NotNil(t, err)
	assert.Equal(t, constants.ErrCodeInvalidRequest, err.Code())
	fields, ok := err.Metadata()["fields"].(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "pattern")
	assert.Contains(t, fields, "limit")
}

func TestPrefixHelpers(t *testing.T) {
	assert.True(t, MatchesAnyPrefix("/health/live", []string{"/metrics", "/health"}))
	assert.False(t, MatchesAnyPrefix("/api", nil))
	assert.True(t, ContainsFold([]string{"GET", "head"}, "HEAD"))
}
