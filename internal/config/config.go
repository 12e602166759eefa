package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultOracleBaseURL     = "https://api.openai.com/v1"
	defaultOracleModel       = "gpt-4o-mini"
	defaultDataGovBaseURL    = "https://catalog.data.gov/api/3"
	defaultToolTimeoutSecs   = 10
	defaultResearchTimeout   = 300
	defaultMaxSearchRounds   = 8
	defaultMaxQueryCount     = 10
	defaultMaxPendingPerPage = 10
	defaultPreviewCharBudget = 1000
	defaultFrontendOrigin    = "http://localhost:5173"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string

	OracleBaseURL string
	OracleAPIKey  string
	OracleModel   string

	DataGovBaseURL string
	DataGovAPIKey  string

	ToolTimeout            time.Duration
	ResearchTimeoutSeconds int
	MaxSearchRounds        int
	MaxQueryCount          int
	MaxResultsPerSearch    int
	PreviewCharBudget      int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                   envOrDefault("PORT", defaultPort),
		Environment:            envOrDefault("APP_ENV", "development"),
		AllowedOrigins:         parseList(envOrDefault("ALLOWED_ORIGINS", defaultFrontendOrigin)),
		OracleBaseURL:          envOrDefault("ORACLE_BASE_URL", defaultOracleBaseURL),
		OracleAPIKey:           strings.TrimSpace(os.Getenv("ORACLE_API_KEY")),
		OracleModel:            envOrDefault("ORACLE_MODEL", defaultOracleModel),
		DataGovBaseURL:         envOrDefault("DATA_GOV_BASE_URL", defaultDataGovBaseURL),
		DataGovAPIKey:          strings.TrimSpace(os.Getenv("DATA_GOV_API_KEY")),
		ResearchTimeoutSeconds: intOrDefault("RESEARCH_TIMEOUT_SECONDS", defaultResearchTimeout),
		MaxSearchRounds:        intOrDefault("MAX_SEARCH_ROUNDS", defaultMaxSearchRounds),
		MaxQueryCount:          intOrDefault("MAX_QUERY_COUNT", defaultMaxQueryCount),
		MaxResultsPerSearch:    intOrDefault("MAX_RESULTS_PER_SEARCH", defaultMaxPendingPerPage),
		PreviewCharBudget:      intOrDefault("PREVIEW_CHAR_BUDGET", defaultPreviewCharBudget),
	}

	toolTimeoutSecs := intOrDefault("TOOL_TIMEOUT_SECONDS", defaultToolTimeoutSecs)
	if toolTimeoutSecs <= 0 {
		return Config{}, errors.New("TOOL_TIMEOUT_SECONDS must be > 0")
	}
	cfg.ToolTimeout = time.Duration(toolTimeoutSecs) * time.Second

	if cfg.MaxSearchRounds <= 0 {
		return Config{}, errors.New("MAX_SEARCH_ROUNDS must be > 0")
	}
	if cfg.MaxQueryCount <= 0 {
		return Config{}, errors.New("MAX_QUERY_COUNT must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
