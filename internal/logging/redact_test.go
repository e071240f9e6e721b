package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/similard/internal/config"
)

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: msg, Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	tests := []struct {
		name    string
		msg     string
		fields  []zapcore.Field
		hidden  string
		visible string
	}{
		{
			name:    "sensitive key",
			msg:     "calling provider",
			fields:  []zapcore.Field{zap.String("api_key", "sk-live-123"), zap.String("model", "bge")},
			hidden:  "sk-live-123",
			visible: `"model":"bge"`,
		},
		{
			name:    "sensitive key case insensitive",
			msg:     "request",
			fields:  []zapcore.Field{zap.String("Authorization", "Bearer abc")},
			hidden:  "abc",
			visible: `"Authorization":"[REDACTED]"`,
		},
		{
			name:    "pattern in value",
			msg:     "header",
			fields:  []zapcore.Field{zap.String("raw", "Bearer xyz123")},
			hidden:  "xyz123",
			visible: "[REDACTED:pattern]",
		},
		{
			name:    "pattern in message",
			msg:     "using api_key=hunter2 for tei",
			hidden:  "hunter2",
			visible: "for tei",
		},
		{
			name:    "non-string sensitive field",
			msg:     "token count",
			fields:  []zapcore.Field{zap.Int("token", 42)},
			hidden:  "42",
			visible: `"token":"[REDACTED]"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encode(t, enc.Clone(), tt.msg, tt.fields...)
			assert.NotContains(t, out, tt.hidden)
			assert.Contains(t, out, tt.visible)
		})
	}
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("abcdef"))
	assert.Equal(t, "[REDACTED:6]", f.String)
}
