package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("vaultixd", "test", Options{Output: &buf})
	logger.Info("escrow created", slog.Uint64("id", 7))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "escrow created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "vaultixd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["id"])
}

func TestSetupHonoursLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("vaultixd", "", Options{Output: &buf, Level: ParseLevel("warn")})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
	require.NotContains(t, buf.String(), `"env"`)
}

func TestSetupWritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "vaultixd.log")
	var buf bytes.Buffer
	logger := Setup("vaultixd", "test", Options{Output: &buf, File: path})
	logger.Error("ledger unavailable")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "ledger unavailable")
	require.Contains(t, buf.String(), "ledger unavailable")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer secret").Value.String())
	require.Equal(t, "escrow_get", MaskField("method", "escrow_get").Value.String())
	require.Equal(t, "abc", MaskField("requestID", "abc").Value.String())
	require.Equal(t, " ", MaskField("authorization", " ").Value.String())
	require.Contains(t, RedactionAllowlist(), "service")
}

func TestAllowlistKeysAreLowerCase(t *testing.T) {
	for _, key := range RedactionAllowlist() {
		require.Equal(t, strings.ToLower(key), key)
		require.True(t, IsAllowlisted(strings.ToUpper(key)), key)
	}
	require.True(t, IsAllowlisted(" requestId "))
	require.False(t, IsAllowlisted("token"))
}
