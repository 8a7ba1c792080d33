package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLogrusAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "text", &buf)
	require.NoError(t, err)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Errorf("error %s", "test")
	adapter.Warningf("warning %d", 42)
	adapter.Infof("compaction %v", true)
	adapter.Debugf("trace only")

	out := buf.String()
	assert.Contains(t, out, "level=error msg=\"error test\"")
	assert.Contains(t, out, "level=warning msg=\"warning 42\"")
	assert.Contains(t, out, "level=debug msg=\"compaction true\"", "badger info is demoted to debug")
	assert.NotContains(t, out, "trace only", "badger debug is demoted to trace")
}

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("info", "json", &buf)
		require.NoError(t, err)
		logger.WithField("worker_id", "w-1").Info("hello")
		assert.Contains(t, buf.String(), `"worker_id":"w-1"`)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New("loud", "text", &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := New("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().WithField("k", "v").Error("dropped") })
}
