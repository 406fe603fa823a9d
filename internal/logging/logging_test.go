package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTagsLogLinesWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New("mlworker").Output(&buf)

	logger.Info().Msg("claimed photo")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "mlworker", line["component"])
	require.Equal(t, "claimed photo", line["message"])
}

func TestNewProducesIndependentLoggersPerComponent(t *testing.T) {
	var bufA, bufB bytes.Buffer
	a := New("bridge").Output(&bufA)
	b := New("sync").Output(&bufB)

	a.Info().Msg("a")
	b.Info().Msg("b")

	var lineA, lineB map[string]any
	require.NoError(t, json.Unmarshal(bufA.Bytes(), &lineA))
	require.NoError(t, json.Unmarshal(bufB.Bytes(), &lineB))
	require.Equal(t, "bridge", lineA["component"])
	require.Equal(t, "sync", lineB["component"])
}
