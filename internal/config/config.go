package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	GoogleAudience  string
	AllowOrigins    []string
	LogstashTCPAddr string

	MinIOEndpoint     string
	MinIOAccessKey    string
	MinIOSecretKey    string
	MinIOUseSSL       bool
	MinIOBucketAvatar string
	MinIOPublicURL    string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	FrontendBaseURL string

	SessionTTL                 time.Duration
	PasswordResetTTL           time.Duration
	PasswordResetSweepInterval time.Duration
	PasswordResetRetention     time.Duration

	AvatarMaxBytes     int64
	AvatarMaxDimension int
	FFmpegPath         string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	avatarMax := int64(5 * 1024 * 1024)
	if v, err := strconv.ParseInt(getenv("AVATAR_MAX_BYTES", "5242880"), 10, 64); err == nil && v > 0 {
		avatarMax = v
	}
	avatarDim := 1024
	if v, err := strconv.Atoi(getenv("AVATAR_MAX_DIMENSION", "1024")); err == nil && v > 0 {
		avatarDim = v
	}

	return Config{
		Port:            getenv("PORT", "8080"),
		DatabaseURL:     must("DATABASE_URL"),
		JWTSecret:       must("JWT_SECRET"),
		GoogleAudience:  getenv("GOOGLE_AUDIENCE", ""),
		AllowOrigins:    splitAndTrim(getenv("ALLOW_ORIGINS", "*")),
		LogstashTCPAddr: getenv("LOGSTASH_TCP_ADDR", ""),

		MinIOEndpoint:     must("MINIO_ENDPOINT"),
		MinIOAccessKey:    must("MINIO_ACCESS_KEY"),
		MinIOSecretKey:    must("MINIO_SECRET_KEY"),
		MinIOUseSSL:       getenv("MINIO_USE_SSL", "false") == "true",
		MinIOBucketAvatar: getenv("MINIO_BUCKET_AVATAR", "kredit-avatars"),
		MinIOPublicURL:    getenv("MINIO_PUBLIC_URL", ""),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", ""),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),

		FrontendBaseURL: getenv("FRONTEND_BASE_URL", ""),

		SessionTTL:                 duration("SESSION_TTL", 24*time.Hour),
		PasswordResetTTL:           duration("PASSWORD_RESET_TTL", 30*time.Minute),
		PasswordResetSweepInterval: duration("PASSWORD_RESET_SWEEP_INTERVAL", time.Hour),
		PasswordResetRetention:     duration("PASSWORD_RESET_RETENTION", 24*time.Hour),

		AvatarMaxBytes:     avatarMax,
		AvatarMaxDimension: avatarDim,
		FFmpegPath:         getenv("FFMPEG_PATH", "ffmpeg"),
	}
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func duration(k string, d time.Duration) time.Duration {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		log.Printf("Warning: invalid duration for %s: %q, using %s", k, raw, d)
		return d
	}
	return parsed
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
