package server

import (
	"os"
	"strconv"
)

// Config holds the HTTP listener settings.
type Config struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// AppConfig is the full runtime configuration, loaded from the
// environment with sane defaults.
type AppConfig struct {
	Server Config

	TraceDBPath    string
	ApprovalDBPath string
	CacheDBPath    string
	HitlDBPath     string

	PolicyPath    string
	PolicyEnforce bool

	RouterEnabled   bool
	MinConfidence   float64
	MinGap          float64
	CacheEnabled    bool
	CacheTTLSeconds int
	HitlEnabled     bool

	SemanticEnabled     bool
	SemanticMinSim      float64
	EmbedModel          string
	EmbedBaseURL        string
	EmbedTimeoutSeconds int

	SandboxEnabled        bool
	SandboxImage          string
	SandboxTimeoutSeconds int
	SandboxMemoryMB       int
	SandboxCPU            string
	SandboxRequired       bool
	SandboxFallback       bool
	SandboxToolDir        string

	ApprovalEnforced   bool
	ApprovalTTLSeconds int
	MaxOutputChars     int

	RequireAuth bool
}

func LoadConfig() AppConfig {
	return AppConfig{
		Server: Config{
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvInt("READ_TIMEOUT", 30),
			WriteTimeout:    getEnvInt("WRITE_TIMEOUT", 30),
			ShutdownTimeout: getEnvInt("SHUTDOWN_TIMEOUT", 10),
		},

		TraceDBPath:    getEnv("TRACE_DB_PATH", "./data/trace.db"),
		ApprovalDBPath: getEnv("APPROVAL_DB_PATH", "./data/approvals.db"),
		CacheDBPath:    getEnv("CACHE_DB_PATH", "./data/intent_cache.db"),
		HitlDBPath:     getEnv("HITL_DB_PATH", "./data/hitl.db"),

		PolicyPath:    getEnv("TOOL_POLICY_PATH", "./config/tool_policy.yaml"),
		PolicyEnforce: getEnvBool("POLICY_ENFORCE", true),

		RouterEnabled:   getEnvBool("INTENT_ROUTER_ENABLED", true),
		MinConfidence:   getEnvFloat("INTENT_MIN_CONFIDENCE", 0.85),
		MinGap:          getEnvFloat("INTENT_MIN_GAP", 0.05),
		CacheEnabled:    getEnvBool("INTENT_CACHE_ENABLED", true),
		CacheTTLSeconds: getEnvInt("INTENT_CACHE_TTL", 600),
		HitlEnabled:     getEnvBool("HITL_ENABLED", true),

		SemanticEnabled:     getEnvBool("SEMANTIC_ROUTER_ENABLED", false),
		SemanticMinSim:      getEnvFloat("SEMANTIC_MIN_SIMILARITY", 0.55),
		EmbedModel:          getEnv("EMBED_MODEL", "nomic-embed-text:latest"),
		EmbedBaseURL:        getEnv("EMBED_BASE_URL", "http://localhost:11434"),
		EmbedTimeoutSeconds: getEnvInt("EMBED_TIMEOUT", 10),

		SandboxEnabled:        getEnvBool("SANDBOX_ENABLED", true),
		SandboxImage:          getEnv("SANDBOX_IMAGE", "python:3.12-slim"),
		SandboxTimeoutSeconds: getEnvInt("SANDBOX_TIMEOUT", 10),
		SandboxMemoryMB:       getEnvInt("SANDBOX_MEMORY_MB", 256),
		SandboxCPU:            getEnv("SANDBOX_CPUS", "0.5"),
		SandboxRequired:       getEnvBool("SANDBOX_REQUIRED", true),
		SandboxFallback:       getEnvBool("SANDBOX_FALLBACK", false),
		SandboxToolDir:        getEnv("SANDBOX_TOOL_DIR", "sandbox_tools"),

		ApprovalEnforced:   getEnvBool("APPROVAL_ENFORCED", true),
		ApprovalTTLSeconds: getEnvInt("APPROVAL_TTL", 900),
		MaxOutputChars:     getEnvInt("TOOL_MAX_OUTPUT_CHARS", 8000),

		RequireAuth: getEnvBool("REQUIRE_AUTH", false),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}
