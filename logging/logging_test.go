package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_RotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := NewRotatingWriter(path)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 64

	_, err = w.Write([]byte(strings.Repeat("a", 50) + "\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 50) + "\n"))
	require.NoError(t, err)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(backup), "bbbb")

	_, err = w.Write([]byte("c\n"))
	require.NoError(t, err)
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c\n", string(current))
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, w, err := Setup(path, "info")
	require.NoError(t, err)
	defer w.Close()

	logger.Info("unit claimed")
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"unit claimed"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	_, _, err := Setup("", "loud")
	assert.Error(t, err)
}
