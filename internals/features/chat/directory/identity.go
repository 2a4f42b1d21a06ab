package directory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
	userModel "sekolahchat_backend/internals/features/users/user/model"
)

// Identity is the public face of a user inside chat lists.
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Role        string    `json:"role"`
}

// IdentityResolver looks up many users at once. Ids it cannot resolve are
// simply absent from the result.
type IdentityResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Identity, error)
}

// UserTableResolver reads identities straight from the users table.
type UserTableResolver struct {
	DB *gorm.DB
}

func NewUserTableResolver(db *gorm.DB) *UserTableResolver {
	return &UserTableResolver{DB: db}
}

func (r *UserTableResolver) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Identity, error) {
	out := make(map[uuid.UUID]Identity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []userModel.UserModel
	if err := r.DB.WithContext(ctx).
		Select("id", "user_name", "full_name", "avatar_url", "role").
		Where("id IN ?", ids).
		Find(&users).Error; err != nil {
		return nil, chaterr.Store(err, "resolve users")
	}
	for i := range users {
		u := &users[i]
		out[u.ID] = Identity{
			UserID:      u.ID,
			DisplayName: u.DisplayName(),
			AvatarURL:   u.AvatarURL,
			Role:        u.Role,
		}
	}
	return out, nil
}
