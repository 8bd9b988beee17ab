package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "info", JSON: true, Output: &buf})
	l.Debug("hidden")
	l.Named("engine").Info("scan done", "files", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "radar.engine", rec["@module"])
	assert.Equal(t, "scan done", rec["@message"])
	assert.EqualValues(t, 3, rec["files"])
}

func TestDefaultLevelIsWarn(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf})
	l.Info("quiet")
	assert.Empty(t, buf.String())
	l.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestOrNull(t *testing.T) {
	assert.NotNil(t, OrNull(nil))
}
