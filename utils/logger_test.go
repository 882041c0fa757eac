package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger := NewLogger("TEST: ", path, 1)
	logger.Printf("visit recorded for %s", "Ivan")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "TEST: ")
	assert.Contains(t, string(raw), "visit recorded for Ivan")
}

func TestNewLoggerStdoutOnly(t *testing.T) {
	logger := NewLogger("TEST: ", "", 0)
	assert.Equal(t, "TEST: ", logger.Prefix())
}
