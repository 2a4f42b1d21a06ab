package model

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/constants"
)

var validate = validator.New()

const (
	RoleAdmin   = constants.RoleAdmin
	RoleTeacher = constants.RoleTeacher
	RoleParent  = constants.RoleParent
	RoleStudent = constants.RoleStudent
)

// UserModel merepresentasikan tabel users. Identitas dikelola sistem auth;
// modul chat hanya membaca id, nama, avatar dan role.
type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserName  string    `gorm:"size:50;not null" json:"user_name" validate:"required,min=3,max=50"`
	FullName  *string   `gorm:"size:120" json:"full_name,omitempty" validate:"omitempty,max=120"`
	Email     string    `gorm:"size:255;unique;not null" json:"email" validate:"required,email"`
	Password  string    `gorm:"not null" json:"-"`
	AvatarURL *string   `gorm:"type:text" json:"avatar_url,omitempty"`
	Role      string    `gorm:"type:varchar(20);not null;default:'student'" json:"role" validate:"required,oneof=admin teacher parent student"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserModel) TableName() string {
	return "users"
}

func (u *UserModel) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// DisplayName: full_name kalau ada, fallback ke user_name.
func (u *UserModel) DisplayName() string {
	if u.FullName != nil {
		if s := strings.TrimSpace(*u.FullName); s != "" {
			return s
		}
	}
	return u.UserName
}

func (u *UserModel) SetDefaultValues() {
	if u.Role == "" {
		u.Role = RoleStudent
	}
}

func (u *UserModel) Validate() error {
	u.SetDefaultValues()

	err := validate.Struct(u)
	if err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		switch fieldErr.Tag() {
		case "required":
			msgs = append(msgs, fieldErr.Field()+" wajib diisi.")
		case "email":
			msgs = append(msgs, "Format email tidak valid.")
		case "min":
			msgs = append(msgs, fieldErr.Field()+" harus minimal "+fieldErr.Param()+" karakter.")
		case "max":
			msgs = append(msgs, fieldErr.Field()+" harus kurang dari "+fieldErr.Param()+" karakter.")
		case "oneof":
			msgs = append(msgs, fieldErr.Field()+" harus salah satu dari "+fieldErr.Param()+".")
		default:
			msgs = append(msgs, fieldErr.Field()+": format tidak valid.")
		}
	}
	return errors.New(strings.Join(msgs, "\n"))
}
