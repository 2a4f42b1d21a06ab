package chaterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := New(KindEmptyMessage, "content and attachment are both empty")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.NotErrorIs(t, err, ErrForbidden)

	wrapped := fmt.Errorf("send: %w", err)
	assert.ErrorIs(t, wrapped, ErrEmptyMessage)
	assert.Equal(t, KindEmptyMessage, KindOf(wrapped))
}

func TestStoreKeepsClassifiedErrors(t *testing.T) {
	classified := New(KindNotAParticipant, "sender is not in room")
	assert.Same(t, classified, Store(classified, "append"))

	infra := errors.New("connection refused")
	err := Store(infra, "append")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, infra)
	assert.True(t, IsTransient(err))
	assert.Nil(t, Store(nil, "noop"))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotAParticipant, 403},
		{KindForbidden, 403},
		{KindInvalidParticipants, 422},
		{KindEmptyMessage, 422},
		{KindPayloadTooLarge, 413},
		{KindUnsupportedType, 415},
		{KindNotFound, 404},
		{KindDuplicateSubmission, 409},
		{KindStoreUnavailable, 503},
		{KindNotifierUnavailable, 503},
		{Kind("other"), 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
