package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// 对象存储（MinIO / S3 兼容）。
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool

	// 助手外部调用。
	AssistantURL       string
	AssistantModel     string
	AssistantKey       string
	AssistantFreeLimit int
	AssistantWorkers   int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Validate 启动前检查关键配置；非 dev 环境拒绝默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default jwt secret is not allowed outside dev")
	}
	return nil
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=zylolink port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getint("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getint("REFRESH_TOKEN_TTL_DAYS", 7),
		BlobEndpoint:          getenv("BLOB_ENDPOINT", "localhost:9000"),
		BlobAccessKey:         getenv("BLOB_ACCESS_KEY", "minioadmin"),
		BlobSecretKey:         getenv("BLOB_SECRET_KEY", "minioadmin"),
		BlobBucket:            getenv("BLOB_BUCKET", "zylolink-uploads"),
		BlobUseSSL:            getenv("BLOB_USE_SSL", "false") == "true",
		AssistantURL:          getenv("ASSISTANT_URL", "https://api.openai.com/v1/chat/completions"),
		AssistantModel:        getenv("ASSISTANT_MODEL", "gpt-4o-mini"),
		AssistantKey:          getenv("ASSISTANT_KEY", ""),
		AssistantFreeLimit:    getint("ASSISTANT_FREE_LIMIT", 5),
		AssistantWorkers:      getint("ASSISTANT_WORKERS", 4),
	}
}
