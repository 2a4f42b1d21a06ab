// Package store persists chat rooms, participants, messages and attachment
// links on top of GORM.
package store

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/chaterr"
)

const MaxContentRunes = 4000

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// notFoundOr maps gorm.ErrRecordNotFound to a NotFound chat error and any
// other failure to StoreUnavailable.
func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chaterr.New(chaterr.KindNotFound, what+" tidak ditemukan")
	}
	return chaterr.Store(err, "load "+what)
}

// normalizeContent trims content; blank content becomes nil.
func normalizeContent(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(v) > MaxContentRunes {
		return nil, chaterr.Newf(chaterr.KindValidation, "pesan maksimal %d karakter", MaxContentRunes)
	}
	return &v, nil
}

// uniqueIDs keeps the first occurrence of every non-nil id.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
