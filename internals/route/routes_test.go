package routes_test

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/configs"
	"sekolahchat_backend/internals/features/chat/chattest"
	"sekolahchat_backend/internals/features/chat/realtime"
	chatRoute "sekolahchat_backend/internals/features/chat/route"
	userModel "sekolahchat_backend/internals/features/users/user/model"
	helper "sekolahchat_backend/internals/helpers"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
	routes "sekolahchat_backend/internals/route"
)

const testSecret = "rahasia-test"

type harness struct {
	app   *fiber.App
	db    *gorm.DB
	admin uuid.UUID
	guru  uuid.UUID
	ortu  uuid.UUID
	luar  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Setenv("JWT_SECRET", testSecret)

	db := chattest.OpenDB(t)
	cfg := configs.DefaultChatConfig()
	cfg.MaxAttachmentBytes = 64 * 1024
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	mod := chatRoute.NewModule(db, broker, helperOSS.NewMemoryStorage("https://cdn.sekolah.test"), cfg, zerolog.Nop())
	app := fiber.New(fiber.Config{
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: helper.FiberErrorHandler,
	})
	routes.SetupRoutes(app, routes.Deps{DB: db, Chat: mod, Log: zerolog.Nop()})

	return &harness{
		app:   app,
		db:    db,
		admin: chattest.User(t, db, "Admin TU", userModel.RoleAdmin),
		guru:  chattest.User(t, db, "Bu Sari", userModel.RoleTeacher),
		ortu:  chattest.User(t, db, "Pak Budi", userModel.RoleParent),
		luar:  chattest.User(t, db, "Orang Luar", userModel.RoleParent),
	}
}

func token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   id.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

// data di-decode belakangan, setelah test tahu bentuknya
type envelope struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	ErrorCode string             `json:"error_code"`
	Data      stdjson.RawMessage `json:"data"`
	Cursor    *helper.CursorPage `json:"cursor"`
}

func (h *harness) do(t *testing.T, method, path string, as uuid.UUID, role string, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := sonic.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+token(t, as, role))
	}
	return h.send(t, req)
}

func (h *harness) send(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	if len(raw) > 0 {
		require.NoError(t, sonic.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw stdjson.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(raw, &v), string(raw))
	return v
}

type roomBody struct {
	RoomID uuid.UUID `json:"room_id"`
	Kind   string    `json:"kind"`
}

type messageBody struct {
	Seq      int64     `json:"seq"`
	SenderID uuid.UUID `json:"sender_id"`
	Content  *string   `json:"content"`
	Deleted  bool      `json:"deleted"`
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodGet, "/api/u/chat/rooms", uuid.Nil, "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.Equal(t, "UNAUTHORIZED", env.ErrorCode)

	require.NoError(t, h.db.Model(&userModel.UserModel{}).Where("id = ?", h.ortu).Update("is_active", false).Error)
	code, _ = h.do(t, http.MethodGet, "/api/u/chat/rooms", h.ortu, userModel.RoleParent, nil)
	assert.Equal(t, fiber.StatusForbidden, code)
}

func TestDirectRoomConversation(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodPost, "/api/u/chat/rooms/direct", h.guru, userModel.RoleTeacher,
		fiber.Map{"peer_id": h.ortu.String()})
	require.Equal(t, fiber.StatusCreated, code, env.Message)
	room := decode[roomBody](t, env.Data)
	assert.Equal(t, "direct", room.Kind)

	// idempotent: dari sisi ortu dapat room yang sama
	code, env = h.do(t, http.MethodPost, "/api/u/chat/rooms/direct", h.ortu, userModel.RoleParent,
		fiber.Map{"peer_id": h.guru.String()})
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, room.RoomID, decode[roomBody](t, env.Data).RoomID)

	base := fmt.Sprintf("/api/u/chat/rooms/%s", room.RoomID)

	code, env = h.do(t, http.MethodPost, base+"/messages", h.guru, userModel.RoleTeacher, fiber.Map{"content": "hi"})
	require.Equal(t, fiber.StatusCreated, code, env.Message)
	msg := decode[messageBody](t, env.Data)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, h.guru, msg.SenderID)

	code, env = h.do(t, http.MethodGet, "/api/u/chat/rooms/"+room.RoomID.String()+"/unread", h.ortu, userModel.RoleParent, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 1, decode[map[string]any](t, env.Data)["unread_count"])

	code, env = h.do(t, http.MethodGet, base+"/messages?limit=10", h.ortu, userModel.RoleParent, nil)
	require.Equal(t, fiber.StatusOK, code)
	msgs := decode[[]messageBody](t, env.Data)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", *msgs[0].Content)
	require.NotNil(t, env.Cursor)
	assert.False(t, env.Cursor.HasMore)

	code, env = h.do(t, http.MethodPost, base+"/read", h.ortu, userModel.RoleParent, fiber.Map{"upto_seq": 1})
	require.Equal(t, fiber.StatusOK, code)
	read := decode[map[string]any](t, env.Data)
	assert.EqualValues(t, 1, read["last_read_seq"])
	assert.EqualValues(t, 0, read["unread_count"])
	assert.Equal(t, true, read["advanced"])

	// orang luar tidak bisa membaca
	code, env = h.do(t, http.MethodGet, base+"/messages", h.luar, userModel.RoleParent, nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "NOT_A_PARTICIPANT", env.ErrorCode)

	// pesan kosong
	code, env = h.do(t, http.MethodPost, base+"/messages", h.guru, userModel.RoleTeacher, fiber.Map{"content": "   "})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Equal(t, "EMPTY_MESSAGE", env.ErrorCode)
}

func TestSendDirectCreatesRoom(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodPost, "/api/u/chat/direct/"+h.ortu.String()+"/messages", h.guru, userModel.RoleTeacher,
		fiber.Map{"content": "Assalamualaikum, Pak"})
	require.Equal(t, fiber.StatusCreated, code, env.Message)
	out := decode[struct {
		Room    roomBody    `json:"room"`
		Message messageBody `json:"message"`
	}](t, env.Data)
	assert.Equal(t, int64(1), out.Message.Seq)

	code, env = h.do(t, http.MethodGet, "/api/u/chat/rooms", h.ortu, userModel.RoleParent, nil)
	require.Equal(t, fiber.StatusOK, code)
	rooms := decode[[]map[string]any](t, env.Data)
	require.Len(t, rooms, 1)
	assert.Equal(t, out.Room.RoomID.String(), rooms[0]["room_id"])
	assert.Equal(t, "Bu Sari", rooms[0]["display_name"])
	assert.EqualValues(t, 1, rooms[0]["unread_count"])
}

func TestEditAndDeleteOwnership(t *testing.T) {
	h := newHarness(t)

	_, env := h.do(t, http.MethodPost, "/api/u/chat/direct/"+h.ortu.String()+"/messages", h.guru, userModel.RoleTeacher,
		fiber.Map{"content": "rapat jam 9"})
	out := decode[struct {
		Message struct {
			MessageID uuid.UUID `json:"message_id"`
		} `json:"message"`
	}](t, env.Data)
	path := "/api/u/chat/messages/" + out.Message.MessageID.String()

	code, env := h.do(t, http.MethodPatch, path, h.ortu, userModel.RoleParent, fiber.Map{"content": "diubah"})
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.ErrorCode)

	code, env = h.do(t, http.MethodPatch, path, h.guru, userModel.RoleTeacher, fiber.Map{"content": "rapat jam 10"})
	require.Equal(t, fiber.StatusOK, code, env.Message)
	assert.Equal(t, "rapat jam 10", *decode[messageBody](t, env.Data).Content)

	code, env = h.do(t, http.MethodDelete, path, h.guru, userModel.RoleTeacher, nil)
	require.Equal(t, fiber.StatusOK, code)
	del := decode[messageBody](t, env.Data)
	assert.True(t, del.Deleted)
	assert.Nil(t, del.Content)
}

func TestGroupValidation(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodPost, "/api/u/chat/rooms/group", h.guru, userModel.RoleTeacher,
		fiber.Map{"name": "Kelas 5A", "participant_ids": []string{"bukan-uuid"}})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.ErrorCode)

	code, env = h.do(t, http.MethodPost, "/api/u/chat/rooms/group", h.guru, userModel.RoleTeacher,
		fiber.Map{"name": "Kelas 5A", "participant_ids": []string{h.ortu.String(), h.luar.String()}})
	require.Equal(t, fiber.StatusCreated, code, env.Message)
	room := decode[roomBody](t, env.Data)

	code, env = h.do(t, http.MethodGet, "/api/u/chat/rooms/"+room.RoomID.String(), h.luar, userModel.RoleParent, nil)
	require.Equal(t, fiber.StatusOK, code)
	detail := decode[struct {
		Participants []map[string]any `json:"participants"`
	}](t, env.Data)
	assert.Len(t, detail.Participants, 3)

	code, _ = h.do(t, http.MethodGet, "/api/u/chat/rooms/bukan-uuid", h.luar, userModel.RoleParent, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func multipartUpload(t *testing.T, path string, as uuid.UUID, name, mime string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	hdr.Set("Content-Type", mime)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, as, userModel.RoleTeacher))
	return req
}

func TestUploadRejectsBeforeStoring(t *testing.T) {
	h := newHarness(t)

	_, env := h.do(t, http.MethodPost, "/api/u/chat/rooms/direct", h.guru, userModel.RoleTeacher,
		fiber.Map{"peer_id": h.ortu.String()})
	room := decode[roomBody](t, env.Data)
	path := "/api/u/chat/rooms/" + room.RoomID.String() + "/attachments"

	code, env := h.send(t, multipartUpload(t, path, h.guru, "besar.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 65*1024)))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env.ErrorCode)

	code, env = h.send(t, multipartUpload(t, path, h.guru, "catatan.txt", "text/plain", []byte("halo")))
	assert.Equal(t, fiber.StatusUnsupportedMediaType, code)
	assert.Equal(t, "UNSUPPORTED_TYPE", env.ErrorCode)
}

func TestAdminReap(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/a/chat/attachments/reap", h.guru, userModel.RoleTeacher, nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, env := h.do(t, http.MethodPost, "/api/a/chat/attachments/reap", h.admin, userModel.RoleAdmin, nil)
	require.Equal(t, fiber.StatusOK, code, env.Message)
	assert.EqualValues(t, 0, decode[map[string]any](t, env.Data)["reaped"])
}

func TestHealthAndWebSocketGuard(t *testing.T) {
	h := newHarness(t)

	resp, err := h.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	code, _ := h.do(t, http.MethodGet, "/api/u/chat/ws", h.guru, userModel.RoleTeacher, nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, code)
}
