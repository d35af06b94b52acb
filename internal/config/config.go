// Package config reads the QMD_* environment variables named in spec.md §6.
// File-based configuration and credential resolution are explicitly out of
// scope for the core; this package only consults the process environment.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
)

// Backend selects which Gateway implementation class the caller should
// construct (spec.md §4.4 / §4.7). The core never constructs a remote
// Gateway itself — it only uses Backend to drive the Scope Guard.
type Backend string

const (
	BackendLocal   Backend = "local"
	BackendAPI     Backend = "api"
	BackendUnknown Backend = ""
)

// DefaultMaxEmbedFileBytes is the fallback cap on per-file embeddable bytes
// (5 MiB, spec.md §4.3).
const DefaultMaxEmbedFileBytes = 5 * 1024 * 1024

// EmbedScope is the (embed_base_url, embed_model) tuple read from the
// environment, trimmed and normalized (trailing slash removed from the URL)
// per spec.md §4.7.
type EmbedScope struct {
	BaseURL string
	Model   string
}

// Config holds the environment-derived settings the core consults.
type Config struct {
	LLMBackend Backend

	EmbedScope  EmbedScope
	EmbedAPIKey string

	ChatBaseURL       string
	ChatModel         string
	ChatAPIKey        string
	ChatStrictJSON    bool

	RerankBaseURL string
	RerankModel   string
	RerankAPIKey  string

	MaxEmbedFileBytes int

	ConfigDir string
}

// Load reads Config from the process environment.
func Load() Config {
	return Config{
		LLMBackend: parseBackend(os.Getenv("QMD_LLM_BACKEND")),

		EmbedScope: EmbedScope{
			BaseURL: normalizeBaseURL(os.Getenv("QMD_EMBED_BASE_URL")),
			Model:   strings.TrimSpace(os.Getenv("QMD_EMBED_MODEL")),
		},
		EmbedAPIKey: os.Getenv("QMD_EMBED_API_KEY"),

		ChatBaseURL:    normalizeBaseURL(os.Getenv("QMD_CHAT_BASE_URL")),
		ChatModel:      strings.TrimSpace(os.Getenv("QMD_CHAT_MODEL")),
		ChatAPIKey:     os.Getenv("QMD_CHAT_API_KEY"),
		ChatStrictJSON: parseBool(os.Getenv("QMD_CHAT_STRICT_JSON_OUTPUT")),

		RerankBaseURL: normalizeBaseURL(os.Getenv("QMD_RERANK_BASE_URL")),
		RerankModel:   strings.TrimSpace(os.Getenv("QMD_RERANK_MODEL")),
		RerankAPIKey:  os.Getenv("QMD_RERANK_API_KEY"),

		MaxEmbedFileBytes: parseMaxEmbedFileBytes(os.Getenv("QMD_MAX_EMBED_FILE_BYTES")),

		ConfigDir: os.Getenv("QMD_CONFIG_DIR"),
	}
}

func parseBackend(v string) Backend {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "local":
		return BackendLocal
	case "api":
		return BackendAPI
	default:
		return BackendUnknown
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// normalizeBaseURL trims whitespace and any trailing slashes, per spec.md §4.7.
func normalizeBaseURL(v string) string {
	v = strings.TrimSpace(v)
	return strings.TrimRight(v, "/")
}

// parseMaxEmbedFileBytes implements the §9 rule: only finite positive
// integers are accepted; fractional values are floored; anything else
// (non-numeric, <=0, NaN, Infinity, empty) falls back to the default.
func parseMaxEmbedFileBytes(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultMaxEmbedFileBytes
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return DefaultMaxEmbedFileBytes
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultMaxEmbedFileBytes
	}
	floored := math.Floor(f)
	if floored <= 0 {
		return DefaultMaxEmbedFileBytes
	}
	if floored > math.MaxInt32 {
		return DefaultMaxEmbedFileBytes
	}
	return int(floored)
}
