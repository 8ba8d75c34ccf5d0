package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimit      int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateWindow     time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`

	EDIOutputDir     string        `mapstructure:"EDI_OUTPUT_DIR"`
	EDISenderID      string        `mapstructure:"EDI_SENDER_ID"`
	EDIReceiverID    string        `mapstructure:"EDI_RECEIVER_ID"`
	EDISubmitterName string        `mapstructure:"EDI_SUBMITTER_NAME"`
	EDIReceiverName  string        `mapstructure:"EDI_RECEIVER_NAME"`
	EDIWriteTimeout  time.Duration `mapstructure:"EDI_WRITE_TIMEOUT"`
	EDIWriteRetries  int           `mapstructure:"EDI_WRITE_RETRIES"`
	EDIDiagnosis     bool          `mapstructure:"EDI_DIAGNOSIS_SEGMENT"`

	IDGenerator string `mapstructure:"ID_GENERATOR"`
	IDNode      int64  `mapstructure:"ID_NODE"`

	ClearinghouseMode     string `mapstructure:"CLEARINGHOUSE_MODE"`
	ClearinghouseURL      string `mapstructure:"CLEARINGHOUSE_URL"`
	ClearinghouseUsername string `mapstructure:"CLEARINGHOUSE_USERNAME"`
	ClearinghousePassword string `mapstructure:"CLEARINGHOUSE_PASSWORD"`
	ClearinghouseSecret   string `mapstructure:"CLEARINGHOUSE_SECRET"`
	ClearinghouseQueue    string `mapstructure:"CLEARINGHOUSE_QUEUE"`

	ArtifactS3Bucket string `mapstructure:"ARTIFACT_S3_BUCKET"`
	ArtifactS3Prefix string `mapstructure:"ARTIFACT_S3_PREFIX"`

	EncounterLockTTL time.Duration `mapstructure:"ENCOUNTER_LOCK_TTL"`

	AuditKafkaBrokers []string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic   string   `mapstructure:"AUDIT_KAFKA_TOPIC"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	MappingRequireApproved bool `mapstructure:"MAPPING_REQUIRE_APPROVED"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"EDI_OUTPUT_DIR", "EDI_SENDER_ID", "EDI_RECEIVER_ID", "EDI_SUBMITTER_NAME",
	"EDI_RECEIVER_NAME", "EDI_WRITE_TIMEOUT", "EDI_WRITE_RETRIES", "EDI_DIAGNOSIS_SEGMENT",
	"ID_GENERATOR", "ID_NODE",
	"CLEARINGHOUSE_MODE", "CLEARINGHOUSE_URL", "CLEARINGHOUSE_USERNAME",
	"CLEARINGHOUSE_PASSWORD", "CLEARINGHOUSE_SECRET", "CLEARINGHOUSE_QUEUE",
	"ARTIFACT_S3_BUCKET", "ARTIFACT_S3_PREFIX", "ENCOUNTER_LOCK_TTL",
	"AUDIT_KAFKA_BROKERS", "AUDIT_KAFKA_TOPIC",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "MAPPING_REQUIRE_APPROVED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_REQUESTS", 600)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("EDI_OUTPUT_DIR", "edi-files")
	v.SetDefault("EDI_SENDER_ID", "123456789")
	v.SetDefault("EDI_RECEIVER_ID", "987654321")
	v.SetDefault("EDI_SUBMITTER_NAME", "AI TELEMEDICINE PLATFORM")
	v.SetDefault("EDI_RECEIVER_NAME", "CLEARINGHOUSE NAME")
	v.SetDefault("EDI_WRITE_TIMEOUT", "10s")
	v.SetDefault("EDI_WRITE_RETRIES", 1)
	v.SetDefault("ID_GENERATOR", "monotonic")
	v.SetDefault("ID_NODE", 1)
	v.SetDefault("CLEARINGHOUSE_MODE", "none")
	v.SetDefault("ARTIFACT_S3_PREFIX", "837/")
	v.SetDefault("ENCOUNTER_LOCK_TTL", "2m")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "claims.audit")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.AuditKafkaBrokers = splitList(cfg.AuditKafkaBrokers, v.GetString("AUDIT_KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// splitList normalizes a comma-separated env value, which viper may hand back
// either unsplit or as a single-element slice.
func splitList(decoded []string, raw string) []string {
	if len(decoded) > 1 {
		return decoded
	}
	if raw == "" && len(decoded) == 1 {
		raw = decoded[0]
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks settings that Load cannot default.
func (c *Config) Validate() error {
	switch c.ClearinghouseMode {
	case "", "none":
	case "http":
		if c.ClearinghouseURL == "" {
			return fmt.Errorf("CLEARINGHOUSE_URL is required when CLEARINGHOUSE_MODE is \"http\"")
		}
	case "sqs":
		if c.ClearinghouseQueue == "" {
			return fmt.Errorf("CLEARINGHOUSE_QUEUE is required when CLEARINGHOUSE_MODE is \"sqs\"")
		}
	default:
		return fmt.Errorf("CLEARINGHOUSE_MODE must be \"none\", \"http\", or \"sqs\", got %q", c.ClearinghouseMode)
	}

	switch c.IDGenerator {
	case "monotonic", "snowflake":
	default:
		return fmt.Errorf("ID_GENERATOR must be \"monotonic\" or \"snowflake\", got %q", c.IDGenerator)
	}

	if c.EDIWriteTimeout <= 0 {
		return fmt.Errorf("EDI_WRITE_TIMEOUT must be positive, got %s", c.EDIWriteTimeout)
	}
	if c.EDIWriteRetries < 1 {
		return fmt.Errorf("EDI_WRITE_RETRIES must be at least 1, got %d", c.EDIWriteRetries)
	}
	if strings.TrimSpace(c.EDISenderID) == "" || strings.TrimSpace(c.EDIReceiverID) == "" {
		return fmt.Errorf("EDI_SENDER_ID and EDI_RECEIVER_ID must be set")
	}

	// Outside development, requests must carry verifiable tokens.
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL is required when ENV=%q", c.Env)
	}
	return nil
}
