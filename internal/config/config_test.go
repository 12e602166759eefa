package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	unsetIfSet(t, "PORT")
	unsetIfSet(t, "ORACLE_BASE_URL")
	unsetIfSet(t, "ORACLE_MODEL")
	unsetIfSet(t, "DATA_GOV_BASE_URL")
	unsetIfSet(t, "TOOL_TIMEOUT_SECONDS")
	unsetIfSet(t, "MAX_SEARCH_ROUNDS")
	unsetIfSet(t, "MAX_QUERY_COUNT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddress() != ":8080" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress())
	}
	if cfg.OracleBaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected oracle base url: %s", cfg.OracleBaseURL)
	}
	if cfg.DataGovBaseURL != "https://catalog.data.gov/api/3" {
		t.Fatalf("unexpected data.gov base url: %s", cfg.DataGovBaseURL)
	}
	if cfg.ToolTimeout != 10*time.Second {
		t.Fatalf("unexpected tool timeout: %v", cfg.ToolTimeout)
	}
	if cfg.MaxSearchRounds != 8 {
		t.Fatalf("unexpected max search rounds: %d", cfg.MaxSearchRounds)
	}
	if cfg.MaxQueryCount != 10 {
		t.Fatalf("unexpected max query count: %d", cfg.MaxQueryCount)
	}
}

func TestLoadRejectsNonPositiveBudgets(t *testing.T) {
	t.Setenv("MAX_SEARCH_ROUNDS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for MAX_SEARCH_ROUNDS=0")
	}
}

func TestLoadRejectsNonPositiveToolTimeout(t *testing.T) {
	t.Setenv("TOOL_TIMEOUT_SECONDS", "-3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative TOOL_TIMEOUT_SECONDS")
	}
}

func TestLoadParsesOriginList(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.AllowedOrigins)
	}
}

func unsetIfSet(t *testing.T, key string) {
	t.Helper()
	if _, ok := os.LookupEnv(key); ok {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env %s: %v", key, err)
		}
	}
}
