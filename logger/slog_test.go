package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.name)
		require.NoError(err, tt.name)
		require.Equal(tt.want, level, tt.name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogJSONOutput(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWithOptions(SlogOptions{Level: InfoLevel, Format: FormatJSON, Output: &buf})

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("address", 12).Info("turnout thrown", "known", "THROWN")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("turnout thrown", rec["msg"])
	require.Equal("THROWN", rec["known"])
	require.EqualValues(12, rec["address"])
	require.Contains(rec, "ts")
}

func TestSlogChildSharesLevel(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	parent := NewSlogWithOptions(SlogOptions{Level: WarnLevel, Format: FormatJSON, Output: &buf})
	child := parent.With("component", "bus")

	child.Info("dropped")
	require.Zero(buf.Len())

	parent.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())

	child.Debug("visible")
	require.NotZero(buf.Len())
}

func TestSetDefault(t *testing.T) {
	require := require.New(t)

	prev := GetLogger()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(NewSlogWithOptions(SlogOptions{Level: InfoLevel, Format: FormatJSON, Output: &buf}))
	SetDefault(nil)

	With("component", "manager").Info("roster loaded", "turnouts", 3)
	require.Contains(buf.String(), `"component":"manager"`)
	require.Contains(buf.String(), `"turnouts":3`)

	SetLevel(ErrorLevel)
	buf.Reset()
	Warn("dropped")
	require.Zero(buf.Len())
}
