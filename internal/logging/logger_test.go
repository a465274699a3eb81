package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo("Tiler", &buf)

	log.Info("tiles built", "count", 3, "elapsed", 2*time.Millisecond, "err", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tiles built", entry["message"])
	assert.Equal(t, "Tiler", entry["component"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "boom", entry["err"])
	assert.Equal(t, "info", entry["level"])
}

func TestLoggerIgnoresDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo("x", &buf)

	log.Warn("odd", "only-key")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, present := entry["only-key"]
	assert.False(t, present)
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo("x", &buf).With("jobId", "j-1")

	log.Error("failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "j-1", entry["jobId"])
}
