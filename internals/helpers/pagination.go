// file: internals/helpers/pagination.go
package helper

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

/* ===============================
   Cursor paging (seq based)
=================================*/

// CursorParams dibaca dari ?before= ?after= ?limit= ?order=.
type CursorParams struct {
	Before    int64
	After     int64
	Limit     int
	Ascending bool
}

type CursorPage struct {
	Limit      int   `json:"limit"`
	Count      int   `json:"count"`
	HasMore    bool  `json:"has_more"`
	NextBefore int64 `json:"next_before,omitempty"`
}

// ResolveCursor membaca parameter cursor dan menormalkan limit.
// - defaultLimit: fallback kalau tidak ada/invalid
// - maxLimit: batas atas (0 = tanpa batas)
// Nilai before/after yang bukan angka positif diabaikan; order default asc.
func ResolveCursor(c *fiber.Ctx, defaultLimit, maxLimit int) CursorParams {
	p := CursorParams{
		Before:    atoi64Positive(c.Query("before")),
		After:     atoi64Positive(c.Query("after")),
		Limit:     defaultLimit,
		Ascending: !strings.EqualFold(strings.TrimSpace(c.Query("order")), "desc"),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(firstNonEmpty(c.Query("limit"), c.Query("per_page")))); err == nil && n > 0 {
		p.Limit = n
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

func atoi64Positive(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
