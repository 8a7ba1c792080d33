package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-frontier/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

// badgerConfig points the frontier and page store into a temp dir
func badgerConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return writeConfig(t, fmt.Sprintf(`
num_workers: 2
start_urls: ["https://docs.example.com/", "https://docs.example.com/guide"]
store:
  backend: badger
  state_dir: %q
  page_db_path: %q
`, filepath.Join(dir, "state"), filepath.Join(dir, "pages.db")))
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
num_workers: 4
start_urls: ["https://example.com"]
store:
  backend: memory
guard:
  redirect_threshold: 7
priority:
  keywords:
    high: ["docs"]
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 7, cfg.Guard.RedirectThreshold)
	assert.Equal(t, []string{"docs"}, cfg.Priority.Keywords["high"])
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
start_urls: ["https://example.com"]
store:
  backend: memory
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: store=memory workers=4 start_urls=1")
	assert.Contains(t, stdout.String(), "Configuration valid")
	assert.Contains(t, stdout.String(), "WARN: num_workers")
}

func TestDoValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "store:\n  backend: cassandra\n"},
		{"postgres without dsn", "store:\n  backend: postgres\n"},
		{"relative start url", "start_urls: [\"example.com/docs\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			exitCode := doValidate(writeConfig(t, tt.content), &stdout, &stderr)

			assert.Equal(t, 1, exitCode)
			assert.Contains(t, stderr.String(), "ERROR")
		})
	}
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoSeedAndStatus(t *testing.T) {
	cfgPath := badgerConfig(t)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, doSeed(cfgPath, nil, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "ADDED: https://docs.example.com/guide")
	assert.Contains(t, stdout.String(), "2 of 2 URLs added")

	stdout.Reset()
	require.Equal(t, 0, doSeed(cfgPath, []string{"https://docs.example.com/guide", "https://docs.example.com/api"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "KNOWN: https://docs.example.com/guide")
	assert.Contains(t, stdout.String(), "ADDED: https://docs.example.com/api")
	assert.Contains(t, stdout.String(), "1 of 2 URLs added")

	stdout.Reset()
	require.Equal(t, 0, doStatus(cfgPath, &stdout, &stderr), stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "Frontier (badger):")
	assert.Contains(t, out, "pending:  3")
	assert.Contains(t, out, "Crawlers: 0")
}

func TestDoSeedSitemaps(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<urlset><url><loc>%[1]s/a</loc></url><url><loc>%[1]s/b</loc></url></urlset>`, srvURL)
	}))
	defer srv.Close()
	srvURL = srv.URL

	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
store:
  backend: badger
  state_dir: %q
fetch:
  respect_robots: false
  max_retries: 0
  initial_retry_delay: 1ms
`, filepath.Join(dir, "state")))

	var stdout, stderr bytes.Buffer
	exitCode := doSeedSitemaps(cfgPath, []string{srv.URL + "/sitemap.xml"}, &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "Sitemaps: 1, URLs in scope: 2, added: 2, errors: 0")

	stdout.Reset()
	require.Equal(t, 0, doStatus(cfgPath, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "pending:  2")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}

func TestDoSeed_BadURL(t *testing.T) {
	cfgPath := badgerConfig(t)

	var stdout, stderr bytes.Buffer
	exitCode := doSeed(cfgPath, []string{"://broken"}, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stderr.String(), "ERROR: ://broken")
	assert.Contains(t, stdout.String(), "0 of 1 URLs added")
}

func TestDoSeed_NoURLs(t *testing.T) {
	cfgPath := writeConfig(t, "store:\n  backend: memory\n")

	var stdout, stderr bytes.Buffer
	exitCode := doSeed(cfgPath, nil, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "no URLs")
}

func TestDoStatus_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doStatus("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"crawl", "resume", "seed", "status", "validate", "version"} {
		assert.Contains(t, out, cmd)
	}
}
