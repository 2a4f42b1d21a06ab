// Package chattest provides an isolated database and fixtures for chat tests.
package chattest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	database "sekolahchat_backend/internals/databases"
	userModel "sekolahchat_backend/internals/features/users/user/model"
)

// OpenDB opens a private in-memory SQLite database with every chat table and
// the users table migrated. The database lives until the test ends.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:chattest_%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))

	db, err := gorm.Open(sqlite.Open(dsn), database.NewGormConfig(gormLogger.Default.LogMode(gormLogger.Silent)))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// satu koneksi: in-memory sqlite hidup selama koneksi terbuka
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate chat tables: %v", err)
	}
	if err := db.AutoMigrate(&userModel.UserModel{}); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	return db
}

// User inserts a user with the given display name and role and returns its id.
func User(t testing.TB, db *gorm.DB, fullName, role string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	uname := strings.ToLower(strings.ReplaceAll(fullName, " ", ".")) + "." + id.String()[:6]
	u := userModel.UserModel{
		ID:       id,
		UserName: uname,
		FullName: &fullName,
		Email:    uname + "@sekolah.test",
		Password: "-",
		Role:     role,
		IsActive: true,
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user %q: %v", fullName, err)
	}
	return id
}

func Str(s string) *string { return &s }

func UUIDPtr(id uuid.UUID) *uuid.UUID { return &id }
