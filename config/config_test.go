package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromYamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://example.test
quote_asset: BUSD
snapshot_refresh: 30s
tls_domains:
  - flatten.example.test
`), 0o644))

	cfg := Config{
		BaseURL:         defaultBaseURL,
		QuoteAsset:      defaultQuoteAsset,
		HistoryPath:     defaultHistoryPath,
		SnapshotRefresh: defaultSnapshotRefresh,
	}
	require.NoError(t, fromYaml(path, &cfg))

	require.Equal(t, "https://example.test", cfg.BaseURL)
	require.Equal(t, "BUSD", cfg.QuoteAsset)
	require.Equal(t, 30*time.Second, cfg.SnapshotRefresh)
	require.Equal(t, []string{"flatten.example.test"}, cfg.TLSDomains)
	// untouched keys keep their defaults
	require.Equal(t, defaultHistoryPath, cfg.HistoryPath)
}

func TestFromYamlMissingFile(t *testing.T) {
	var cfg Config
	require.Error(t, fromYaml(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}

func TestFromYamlMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: [oops"), 0o644))

	var cfg Config
	require.Error(t, fromYaml(path, &cfg))
}
