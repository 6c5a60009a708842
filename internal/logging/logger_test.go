package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		log, err := New("warn", format)
		require.NoError(t, err, format)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	}
}
