package configs

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	JWTSecret string
	AppEnv    string
)

// =======================
// ENV LOADER
// =======================
func LoadEnv() {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("⚠️ Tidak menemukan .env file, menggunakan ENV dari sistem")
		} else {
			log.Println("✅ .env file berhasil dimuat!")
		}
	} else {
		log.Println("🚀 Running in Railway, menggunakan ENV dari sistem")
	}

	JWTSecret = GetEnv("JWT_SECRET")
	AppEnv = GetEnv("APP_ENV", "development")

	if JWTSecret == "" {
		log.Println("❌ JWT_SECRET belum diset!")
	} else {
		log.Println("✅ JWT_SECRET berhasil dimuat.")
	}
}

func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if (!exists || strings.TrimSpace(value) == "") && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return strings.TrimSpace(value)
}

func GetEnvInt64(key string, def int64) int64 {
	if v := GetEnv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func GetEnvInt(key string, def int) int {
	return int(GetEnvInt64(key, int64(def)))
}

func GetEnvBool(key string, def bool) bool {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := GetEnv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func IsDevelopment() bool {
	return AppEnv == "" || AppEnv == "development"
}

// =======================
// CHAT CONFIG
// =======================

const (
	RealtimeBackendMemory = "memory"
	RealtimeBackendRedis  = "redis"
)

type ChatConfig struct {
	MaxAttachmentBytes int64
	AllowedMimeFamily  []string // prefix, mis. "image/"
	ThumbnailSize      int

	HistoryPageSize int
	HistoryMaxPage  int

	RealtimeBackend string
	RedisURL        string

	OrphanRetention time.Duration
	ReaperSchedule  string
	ReaperDryRun    bool

	PublicBaseURL string
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MaxAttachmentBytes: 5 * 1024 * 1024,
		AllowedMimeFamily:  []string{"image/", "video/"},
		ThumbnailSize:      320,
		HistoryPageSize:    30,
		HistoryMaxPage:     100,
		RealtimeBackend:    RealtimeBackendMemory,
		OrphanRetention:    24 * time.Hour,
		ReaperSchedule:     "@every 1h",
	}
}

func LoadChatConfig() ChatConfig {
	d := DefaultChatConfig()
	cfg := ChatConfig{
		MaxAttachmentBytes: GetEnvInt64("CHAT_MAX_ATTACHMENT_BYTES", d.MaxAttachmentBytes),
		AllowedMimeFamily:  d.AllowedMimeFamily,
		ThumbnailSize:      GetEnvInt("CHAT_THUMBNAIL_SIZE", d.ThumbnailSize),
		HistoryPageSize:    GetEnvInt("CHAT_HISTORY_PAGE_SIZE", d.HistoryPageSize),
		HistoryMaxPage:     GetEnvInt("CHAT_HISTORY_MAX_PAGE", d.HistoryMaxPage),
		RealtimeBackend:    strings.ToLower(GetEnv("CHAT_REALTIME_BACKEND", d.RealtimeBackend)),
		RedisURL:           GetEnv("REDIS_URL"),
		OrphanRetention:    GetEnvDuration("CHAT_ORPHAN_RETENTION", d.OrphanRetention),
		ReaperSchedule:     GetEnv("CHAT_REAPER_SCHEDULE", d.ReaperSchedule),
		ReaperDryRun:       GetEnvBool("CHAT_REAPER_DRY_RUN", false),
		PublicBaseURL:      GetEnv("CHAT_PUBLIC_BASE_URL"),
	}
	if cfg.RealtimeBackend == RealtimeBackendRedis && cfg.RedisURL == "" {
		log.Println("⚠️ CHAT_REALTIME_BACKEND=redis tapi REDIS_URL kosong, fallback ke memory")
		cfg.RealtimeBackend = RealtimeBackendMemory
	}
	return cfg
}
