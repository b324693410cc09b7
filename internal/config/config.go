package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	LogFile     string
	APIToken    string

	Tokenizer    string
	Pooler       string
	Encoder      string
	EmbeddingDim int
	HiddenSize   int
	Buckets      int
	Seed         uint64
	Workers      int
	StrictHeads  bool

	OllamaURL  string
	EmbedModel string

	KafkaBrokers []string
	KafkaTopic   string

	SlackBotToken string
	SlackChannel  string

	StatePath string
}

func Load() Config {
	return Config{
		Port:        envInt("VERDICT_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFile:     envStr("LOG_FILE", ""),
		APIToken:    envStr("VERDICT_API_TOKEN", ""),

		Tokenizer:    envStr("VERDICT_TOKENIZER", "whitespace"),
		Pooler:       envStr("VERDICT_POOLER", "mean"),
		Encoder:      envStr("VERDICT_ENCODER", "bilstm"),
		EmbeddingDim: envInt("VERDICT_EMBEDDING_DIM", 768),
		HiddenSize:   envInt("VERDICT_HIDDEN_SIZE", 400),
		Buckets:      envInt("VERDICT_BUCKETS", 4096),
		Seed:         envUint("VERDICT_SEED", 42),
		Workers:      envInt("VERDICT_WORKERS", 4),
		StrictHeads:  envBool("VERDICT_STRICT_HEADS", false),

		OllamaURL:  envStr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envStr("VERDICT_EMBED_MODEL", "nomic-embed-text"),

		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "verdict.classifications"),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),

		StatePath: envStr("VERDICT_STATE_PATH", ".verdict-state.json"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
