package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"search-agent/internal/gateway"
)

func TestLoadLambda_Defaults(t *testing.T) {
	cfg, err := load[Lambda](map[string]string{
		"STATE_TABLE":  "sessions",
		"PARAM_PREFIX": "/search-agent",
	})
	require.NoError(t, err)
	require.Equal(t, "sessions", cfg.StateTable)
	require.Equal(t, "/search-agent", cfg.ParamPrefix)
	require.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	require.Equal(t, 5, cfg.SearchResultCount)
	require.Equal(t, gateway.Budget{MaxResponseBytes: 1 << 20, Timeout: 30 * time.Second}, cfg.ModelBudget())
	require.Equal(t, gateway.Budget{MaxResponseBytes: 1 << 20, Timeout: 10 * time.Second}, cfg.SearchBudget())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoadLambda_RequiresTableAndPrefix(t *testing.T) {
	_, err := load[Lambda](map[string]string{"PARAM_PREFIX": "/p"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "STATE_TABLE")

	_, err = load[Lambda](map[string]string{"STATE_TABLE": "t"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "PARAM_PREFIX")

	_, err = load[Lambda](map[string]string{"STATE_TABLE": "t", "PARAM_PREFIX": "no-slash"})
	require.Error(t, err)
}

func TestLoadLocal_Overrides(t *testing.T) {
	cfg, err := load[Local](map[string]string{
		"SQLITE_PATH":               "/tmp/s.db",
		"HTTP_PORT":                 "9090",
		"GEMINI_API_KEY":            "g",
		"GOOGLE_CSE_API_KEY":        "k",
		"GOOGLE_CSE_ID":             "cx",
		"SEARCH_RESULT_COUNT":       "3",
		"MODEL_CALL_TIMEOUT":        "5s",
		"SEARCH_MAX_RESPONSE_BYTES": "2048",
		"LOG_LEVEL":                 "debug",
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/s.db", cfg.SQLitePath)
	require.Equal(t, 9090, cfg.HTTPPort)
	require.Equal(t, "g", cfg.GeminiAPIKey)
	require.Equal(t, "k", cfg.CSEAPIKey)
	require.Equal(t, "cx", cfg.CSEID)
	require.Equal(t, 3, cfg.SearchResultCount)
	require.Equal(t, 5*time.Second, cfg.ModelBudget().Timeout)
	require.Equal(t, int64(2048), cfg.SearchBudget().MaxResponseBytes)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadLocal_MissingKeysAreNotFatal(t *testing.T) {
	cfg, err := load[Local](map[string]string{})
	require.NoError(t, err)
	require.Empty(t, cfg.GeminiAPIKey)
	require.Equal(t, "search-agent.db", cfg.SQLitePath)
	require.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"result count":  {"SEARCH_RESULT_COUNT": "11"},
		"zero budget":   {"MODEL_MAX_RESPONSE_BYTES": "0"},
		"zero timeout":  {"SEARCH_CALL_TIMEOUT": "0s"},
		"bad duration":  {"MODEL_CALL_TIMEOUT": "soon"},
		"bad log level": {"LOG_LEVEL": "loud"},
		"port":          {"HTTP_PORT": "70000"},
		"query length":  {"MAX_QUERY_LENGTH": "0"},
		"blank sqlite":  {"SQLITE_PATH": " "},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load[Local](environ)
			require.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SEARCH_AGENT_DOTENV_TEST=from-file\n"), 0o600))
	t.Setenv("SEARCH_AGENT_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("SEARCH_AGENT_DOTENV_TEST"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("SEARCH_AGENT_DOTENV_TEST"))
}
