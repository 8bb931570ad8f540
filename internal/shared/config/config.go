package config

import (
	"os"
	"strconv"
	"strings"

	"insurance-bot/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Env  string
	Port string

	DatabaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3Endpoint      string
	SSEKMSKeyID     string
	GCSBucket       string
	GCSPrefix       string

	LLMProvider       string
	LLMModel          string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	VertexProjectID   string
	VertexRegion      string
	VertexAccessToken string

	NotifierType   string
	NotifyQueueURL string

	RedisURL        string
	KafkaBrokers    []string
	KafkaAuditTopic string

	MaxUploadAttempts int
	ExtractionMode    string
	JWTSecret         string
}

// Load reads configuration from environment variables with sensible defaults.
// When CONFIG_FILE names a YAML file its values sit between the defaults and
// the environment.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var file FileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			telemetry.Warn("config.file_ignored", map[string]any{"path": path, "error": err})
		} else {
			file = loaded
		}
	}
	return fromSources(file)
}

func fromSources(file FileConfig) Config {
	env := normalizeEnv(getEnv("ENV", orDefault(file.Env, "dev")))
	cfg := Config{
		Env:  env,
		Port: getEnv("PORT", orDefault(file.Port, "8080")),

		DatabaseURL: getEnv("DATABASE_URL", file.DatabaseURL),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", file.ObjectStore.Type)),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", orDefault(file.ObjectStore.LocalDir, "./data")),
		AWSRegion:       getEnv("AWS_REGION", file.ObjectStore.Region),
		S3Bucket:        getEnv("S3_BUCKET", file.ObjectStore.Bucket),
		S3Prefix:        getEnv("S3_PREFIX", file.ObjectStore.Prefix),
		S3Endpoint:      getEnv("S3_ENDPOINT", file.ObjectStore.Endpoint),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", file.ObjectStore.KMSKeyID),
		GCSBucket:       getEnv("GCS_BUCKET", file.ObjectStore.Bucket),
		GCSPrefix:       getEnv("GCS_PREFIX", file.ObjectStore.Prefix),

		LLMProvider:       normalizeProvider(getEnv("LLM_PROVIDER", orDefault(file.LLM.Provider, "none"))),
		LLMModel:          getEnv("LLM_MODEL", file.LLM.Model),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", file.LLM.BaseURL),
		VertexProjectID:   getEnv("VERTEX_PROJECT_ID", file.LLM.ProjectID),
		VertexRegion:      getEnv("VERTEX_REGION", orDefault(file.LLM.Region, "us-central1")),
		VertexAccessToken: getEnv("VERTEX_ACCESS_TOKEN", ""),

		NotifierType:   normalizeNotifier(getEnv("NOTIFIER", file.Notify.Type)),
		NotifyQueueURL: getEnv("NOTIFY_SQS_QUEUE_URL", file.Notify.QueueURL),

		RedisURL:        getEnv("REDIS_URL", file.RedisURL),
		KafkaBrokers:    splitAndTrim(getEnv("KAFKA_BROKERS", strings.Join(file.Kafka.Brokers, ","))),
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", orDefault(file.Kafka.Topic, "fastcar.audit")),

		MaxUploadAttempts: getEnvInt("MAX_UPLOAD_ATTEMPTS", orDefaultInt(file.MaxUploadAttempts, 5)),
		ExtractionMode:    getEnv("EXTRACTION_MODE", orDefault(file.ExtractionMode, "simulate")),
		JWTSecret:         getEnv("JWT_SECRET", ""),
	}
	if env == "production" && cfg.DatabaseURL == "" {
		telemetry.Warn("config.missing", map[string]any{"key": "DATABASE_URL"})
	}
	return cfg
}

func getEnv(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return n
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "gcs":
		return "gcs"
	case "memory":
		return "memory"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai":
		return "openai"
	case "vertex", "gemini":
		return "vertex"
	default:
		return "none"
	}
}

func normalizeNotifier(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "sqs") {
		return "sqs"
	}
	return "log"
}
