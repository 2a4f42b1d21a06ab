package users

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/users/user/model"
)

type UserSeed struct {
	UserName string `json:"user_name"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// SeedUsersFromJSON memasukkan user demo yang belum ada (dicek via email).
// Return: semua user dari file, baru maupun lama, urut sesuai file.
func SeedUsersFromJSON(db *gorm.DB, filePath string, log zerolog.Logger) ([]model.UserModel, error) {
	log.Info().Str("file", filePath).Msg("📥 Membaca file user")

	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var inputs []UserSeed
	if err := json.Unmarshal(file, &inputs); err != nil {
		return nil, err
	}

	out := make([]model.UserModel, 0, len(inputs))
	for _, data := range inputs {
		var existing model.UserModel
		if err := db.Where("email = ?", data.Email).Take(&existing).Error; err == nil {
			log.Debug().Str("email", data.Email).Msg("ℹ️ user sudah ada, dilewati")
			out = append(out, existing)
			continue
		}

		// 🔐 Hash password sebelum disimpan
		hashed, err := bcrypt.GenerateFromPassword([]byte(data.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Error().Err(err).Str("email", data.Email).Msg("❌ gagal hash password")
			continue
		}

		fullName := data.FullName
		u := model.UserModel{
			UserName: data.UserName,
			FullName: &fullName,
			Email:    data.Email,
			Password: string(hashed),
			Role:     data.Role,
			IsActive: true,
		}
		if err := u.Validate(); err != nil {
			log.Error().Err(err).Str("email", data.Email).Msg("❌ data user tidak valid")
			continue
		}
		if err := db.Create(&u).Error; err != nil {
			log.Error().Err(err).Str("email", data.Email).Msg("❌ gagal insert user")
			continue
		}
		log.Info().Str("email", data.Email).Msg("✅ user dibuat")
		out = append(out, u)
	}
	return out, nil
}
