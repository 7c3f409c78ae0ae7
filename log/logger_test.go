package log

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(os.Stderr)

	prev := GetLevel()
	defer SetLevel(prev)

	logger := New("test")

	SetLevel(Warning)
	logger.Info("hidden")
	logger.Warning("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[test]")

	buf.Reset()
	SetLevel(Debug)
	logger.Debugf("value=%d", 42)
	assert.True(t, strings.Contains(buf.String(), "value=42"))
	assert.Equal(t, Debug, GetLevel())
}

func TestParseLevel(t *testing.T) {
	specs := map[string]Level{
		"debug":   Debug,
		"INFO":    Info,
		"notice":  Notice,
		"warn":    Warning,
		"warning": Warning,
		"error":   Error,
	}
	for name, exp := range specs {
		level, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, exp, level, name)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}
