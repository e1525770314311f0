package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-encoder")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("environment variable wins over PATH", func(t *testing.T) {
		bin := writeExecutable(t, 0o755)
		t.Setenv("FRAMECAST_TEST_BINARY", bin)

		path, err := FindBinary("ls", "FRAMECAST_TEST_BINARY")
		require.NoError(t, err)
		assert.Equal(t, bin, path)
	})

	t.Run("falls back to PATH", func(t *testing.T) {
		path, err := FindBinary("ls", "")
		require.NoError(t, err)
		assert.Contains(t, path, "ls")
	})

	t.Run("explicit path is checked directly", func(t *testing.T) {
		bin := writeExecutable(t, 0o755)

		path, err := FindBinary(bin, "")
		require.NoError(t, err)
		assert.Equal(t, bin, path)
	})

	t.Run("explicit non-executable path fails", func(t *testing.T) {
		bin := writeExecutable(t, 0o644)

		_, err := FindBinary(bin, "")
		assert.Error(t, err)
	})

	t.Run("missing binary", func(t *testing.T) {
		path, err := FindBinary("framecast-definitely-missing-12345", "")
		assert.Error(t, err)
		assert.Empty(t, path)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ignores unusable env values", func(t *testing.T) {
		for _, value := range []string{"/nonexistent/binary", t.TempDir(), writeExecutable(t, 0o644)} {
			t.Setenv("FRAMECAST_TEST_BINARY", value)

			path, err := FindBinary("ls", "FRAMECAST_TEST_BINARY")
			require.NoError(t, err)
			assert.NotEqual(t, value, path)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := FindBinary("", "")
		assert.Error(t, err)
	})
}
