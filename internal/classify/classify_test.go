package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3047/totalizer/internal/errors"
)

func mustCompile(t *testing.T, configs ...RuleConfig) *Classifier {
	t.Helper()
	c, err := Compile(configs)
	require.NoError(t, err)
	return c
}

func TestCompileValidatesAtLoadTime(t *testing.T) {
	tests := []struct {
		name string
		cfg  RuleConfig
	}{
		{"bad pattern", RuleConfig{Pattern: "(", Prefix: "web"}},
		{"missing prefix", RuleConfig{Pattern: "x"}},
		{"separator in prefix", RuleConfig{Pattern: "x", Prefix: "web;page"}},
		{"separator in template", RuleConfig{Pattern: "(x)", Prefix: "web", Template: "${1};tail"}},
		{"undefined numbered group", RuleConfig{Pattern: "(x)", Prefix: "web", Template: "${2}"}},
		{"undefined named group", RuleConfig{Pattern: "(?P<path>x)", Prefix: "web", Template: "${status}"}},
		{"dangling dollar", RuleConfig{Pattern: "(x)", Prefix: "web", Template: "${1}$"}},
		{"unterminated brace", RuleConfig{Pattern: "(x)", Prefix: "web", Template: "${1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile([]RuleConfig{tc.cfg})
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
		})
	}

	_, err := Compile(nil)
	require.Error(t, err, "empty rule set is a configuration error")
}

func TestClassifyFirstMatchWins(t *testing.T) {
	c := mustCompile(t,
		RuleConfig{Pattern: `GET (/a)`, Prefix: "first"},
		RuleConfig{Pattern: `GET (/\S*)`, Prefix: "second"},
	)

	m, ok := c.Classify("GET /a HTTP/1.1")
	require.True(t, ok)
	assert.Equal(t, "first", m.Prefix)

	m, ok = c.Classify("GET /b HTTP/1.1")
	require.True(t, ok)
	assert.Equal(t, "second", m.Prefix)
	assert.Equal(t, "/b", m.Matched)
}

func TestClassifyTotalOverArbitraryInput(t *testing.T) {
	c := mustCompile(t, RuleConfig{Pattern: `GET (/\S*)`, Prefix: "web"})

	for _, line := range []string{
		"",
		"no match here",
		"\x00\x01\xff binary garbage \xfe",
		strings.Repeat("x", 1<<16),
	} {
		_, ok := c.Classify(line)
		assert.False(t, ok, "line %q should not match", line)
	}
}

func TestClassifyTemplateExpansion(t *testing.T) {
	c := mustCompile(t, RuleConfig{
		Pattern:  `^(?P<method>\S+) (?P<path>\S+) (?P<status>\d{3})$`,
		Prefix:   "web",
		Template: "${path},${status}",
	})

	m, ok := c.Classify("GET /a 200")
	require.True(t, ok)
	assert.Equal(t, Match{Prefix: "web", Matched: "/a,200"}, m)
}

func TestClassifyDefaultTemplate(t *testing.T) {
	// First capture group when the pattern has one.
	c := mustCompile(t, RuleConfig{Pattern: `GET (\S+)`, Prefix: "web"})
	m, ok := c.Classify("GET /Index.HTML HTTP/1.1")
	require.True(t, ok)
	assert.Equal(t, "/index.html", m.Matched)

	// No captures at all: the fixed sentinel.
	c = mustCompile(t, RuleConfig{Pattern: `ssh.*Failed password`, Prefix: "ssh_fail"})
	m, ok = c.Classify("sshd[1]: Failed password for root")
	require.True(t, ok)
	assert.Equal(t, MatchAny, m.Matched)
}

func TestClassifySanitizesMatchedValue(t *testing.T) {
	c := mustCompile(t, RuleConfig{Pattern: `value=(.*)`, Prefix: "web"})

	// Cut at the first separator so the key stays reversible.
	m, ok := c.Classify("value=abc;injected;tail")
	require.True(t, ok)
	assert.Equal(t, "abc", m.Matched)

	// Bounded length.
	m, ok = c.Classify("value=" + strings.Repeat("a", 200))
	require.True(t, ok)
	assert.Len(t, m.Matched, 64)

	// Case folded.
	m, ok = c.Classify("value=MixedCase")
	require.True(t, ok)
	assert.Equal(t, "mixedcase", m.Matched)

	// Entirely separator input falls back to the sentinel.
	m, ok = c.Classify("value=;;;")
	require.True(t, ok)
	assert.Equal(t, MatchAny, m.Matched)
}
