package database

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"sekolahchat_backend/internals/configs"
	chatModel "sekolahchat_backend/internals/features/chat/model"
)

var DB *gorm.DB

// NewGormConfig dipakai bersama oleh koneksi produksi dan database test.
// TranslateError wajib: store mengandalkan gorm.ErrDuplicatedKey untuk dedup room direct.
func NewGormConfig(l gormLogger.Interface) *gorm.Config {
	return &gorm.Config{
		Logger:         l,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func ConnectDB(log zerolog.Logger) {
	log.Info().Msg("🔌 Koneksi ke PostgreSQL...")

	// Catatan: kalau pakai PgBouncer, ganti host/port ke port PgBouncer dan biarkan PreferSimpleProtocol=true
	sslmode := getenv("DB_SSLMODE", "require")
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&application_name=sekolahchat&options=-c statement_timeout=3000",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_NAME"),
		sslmode,
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), NewGormConfig(configs.NewGormLogger(log)))
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Gagal konek DB")
	}
	DB = db
	log.Info().Msg("✅ DB connected.")
}

func TunePool(log zerolog.Logger) {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Error().Err(err).Msg("pool tune err")
		return
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
}

func WarmUpQueries(log zerolog.Logger) {
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := ping(); err != nil {
			log.Warn().Err(err).Msg("warm-up ping err")
			return
		}
		// query list room paling sering dipanggil
		var n int64
		if err := DB.Model(&chatModel.RoomModel{}).Limit(1).Count(&n).Error; err != nil {
			log.Warn().Err(err).Msg("warm-up chat_rooms err")
		}
	}()
}

// Migrate membuat/menyesuaikan tabel chat. Tabel users milik sistem auth,
// tidak disentuh di sini.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(chatModel.All()...)
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
