package controller

import (
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/features/chat/attachment"
	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/directory"
	"sekolahchat_backend/internals/features/chat/dto"
	"sekolahchat_backend/internals/features/chat/service"
	"sekolahchat_backend/internals/features/chat/store"
	helper "sekolahchat_backend/internals/helpers"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
)

type ChatController struct {
	Svc      *service.ChatService
	Reaper   *attachment.Reaper
	Validate *validator.Validate
	Log      zerolog.Logger
}

func NewChatController(svc *service.ChatService, reaper *attachment.Reaper, log zerolog.Logger) *ChatController {
	return &ChatController{Svc: svc, Reaper: reaper, Validate: validator.New(), Log: log}
}

/* ===================== helpers ===================== */

// fail menerjemahkan error chat ke envelope JSON + status HTTP.
func (ctl *ChatController) fail(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return helper.JsonError(c, fe.Code, fe.Message)
	}
	var ce *chaterr.Error
	if errors.As(err, &ce) {
		status := chaterr.HTTPStatus(ce.Kind)
		msg := ce.Message
		if status >= fiber.StatusInternalServerError {
			ctl.Log.Error().Err(err).Str("path", c.Path()).Msg("chat: request gagal")
			msg = "Layanan chat sedang tidak tersedia, coba lagi"
		}
		if msg == "" {
			msg = strings.ToLower(strings.ReplaceAll(string(ce.Kind), "_", " "))
		}
		return helper.JsonErrorCode(c, status, string(ce.Kind), msg)
	}
	ctl.Log.Error().Err(err).Str("path", c.Path()).Msg("chat: error tak terklasifikasi")
	return helper.JsonError(c, fiber.StatusInternalServerError, "")
}

func (ctl *ChatController) bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "Body tidak valid")
	}
	if err := ctl.Validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := map[string][]string{}
			for _, fe := range ve {
				fields[fe.Field()] = append(fields[fe.Field()], fe.Tag())
			}
			return helper.JsonValidationError(c, fields)
		}
		return helper.JsonError(c, fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params(name)))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, name+" tidak valid")
	}
	return id, nil
}

func parseUUIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// caller: user_id + room id dari path sekaligus
func (ctl *ChatController) caller(c *fiber.Ctx, param string) (me, id uuid.UUID, err error) {
	if me, err = helper.GetUserIDFromToken(c); err != nil {
		return
	}
	id, err = paramUUID(c, param)
	return
}

/* ===================== rooms ===================== */

// POST /rooms/direct
func (ctl *ChatController) CreateDirectRoom(c *fiber.Ctx) error {
	me, err := helper.GetUserIDFromToken(c)
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.CreateDirectRoomRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	peer, _ := uuid.Parse(req.PeerID)

	room, created, err := ctl.Svc.CreateDirect(c.UserContext(), me, peer)
	if err != nil {
		return ctl.fail(c, err)
	}
	if created {
		return helper.JsonCreated(c, "Room dibuat", dto.FromRoom(room))
	}
	return helper.JsonOK(c, "Room sudah ada", dto.FromRoom(room))
}

// POST /rooms/group
func (ctl *ChatController) CreateGroupRoom(c *fiber.Ctx) error {
	me, err := helper.GetUserIDFromToken(c)
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.CreateGroupRoomRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	var name *string
	if strings.TrimSpace(req.Name) != "" {
		name = &req.Name
	}
	room, err := ctl.Svc.CreateGroup(c.UserContext(), me, name, req.AvatarURL, parseUUIDs(req.ParticipantIDs))
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonCreated(c, "Grup dibuat", dto.FromRoom(room))
}

// GET /rooms?q=&unread_only=
func (ctl *ChatController) ListRooms(c *fiber.Ctx) error {
	me, err := helper.GetUserIDFromToken(c)
	if err != nil {
		return ctl.fail(c, err)
	}
	f := directory.Filter{
		Query:      c.Query("q"),
		UnreadOnly: c.QueryBool("unread_only", false),
	}
	rooms, err := ctl.Svc.ListRooms(c.UserContext(), me, f)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonList(c, "ok", rooms, nil)
}

// GET /rooms/:id
func (ctl *ChatController) GetRoom(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	room, err := ctl.Svc.GetRoom(c.UserContext(), me, roomID)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonOK(c, "ok", room)
}

// DELETE /rooms/:id
func (ctl *ChatController) DisableRoom(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	room, err := ctl.Svc.DisableRoom(c.UserContext(), me, roomID)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonDeleted(c, "Room dinonaktifkan", dto.FromRoom(room))
}

// POST /rooms/:id/participants
func (ctl *ChatController) AddParticipants(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.AddParticipantsRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	added, err := ctl.Svc.AddParticipants(c.UserContext(), me, roomID, parseUUIDs(req.UserIDs))
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonCreated(c, "Peserta ditambahkan", dto.FromParticipants(added))
}

// DELETE /rooms/:id/participants/:userId
func (ctl *ChatController) RemoveParticipant(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	userID, err := paramUUID(c, "userId")
	if err != nil {
		return ctl.fail(c, err)
	}
	if err := ctl.Svc.RemoveParticipant(c.UserContext(), me, roomID, userID); err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonDeleted(c, "Peserta dikeluarkan", fiber.Map{"room_id": roomID, "user_id": userID})
}

/* ===================== messages ===================== */

// GET /rooms/:id/messages?before=&after=&limit=&order=
func (ctl *ChatController) ListMessages(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	cfg := ctl.Svc.Cfg
	p := helper.ResolveCursor(c, cfg.HistoryPageSize, cfg.HistoryMaxPage)
	page, err := ctl.Svc.ListMessages(c.UserContext(), me, store.ListQuery{
		RoomID:    roomID,
		BeforeSeq: p.Before,
		AfterSeq:  p.After,
		Limit:     p.Limit,
		Ascending: p.Ascending,
	})
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonList(c, "ok", page.Messages, &helper.CursorPage{
		Limit:      p.Limit,
		Count:      len(page.Messages),
		HasMore:    page.HasMore,
		NextBefore: page.NextBefore,
	})
}

func sendInput(req dto.SendMessageRequest) (*string, *uuid.UUID, error) {
	var attID *uuid.UUID
	if req.AttachmentID != nil && strings.TrimSpace(*req.AttachmentID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*req.AttachmentID))
		if err != nil {
			return nil, nil, fiber.NewError(fiber.StatusBadRequest, "attachment_id tidak valid")
		}
		attID = &id
	}
	return req.Content, attID, nil
}

// POST /rooms/:id/messages
func (ctl *ChatController) SendMessage(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.SendMessageRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	content, attID, err := sendInput(req)
	if err != nil {
		return ctl.fail(c, err)
	}
	msg, err := ctl.Svc.SendMessage(c.UserContext(), service.SendInput{
		RoomID: roomID, SenderID: me, Content: content, AttachmentID: attID,
	})
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonCreated(c, "Pesan terkirim", msg)
}

// POST /direct/:peerId/messages
func (ctl *ChatController) SendDirect(c *fiber.Ctx) error {
	me, peer, err := ctl.caller(c, "peerId")
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.SendMessageRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	if req.AttachmentID != nil {
		// attachment terikat room; unggah lewat /rooms/:id/attachments setelah room ada
		return helper.JsonError(c, fiber.StatusBadRequest, "attachment tidak didukung di endpoint ini")
	}
	msg, room, err := ctl.Svc.SendDirect(c.UserContext(), me, peer, req.Content)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonCreated(c, "Pesan terkirim", fiber.Map{
		"room":    dto.FromRoom(room),
		"message": msg,
	})
}

// PATCH /messages/:id
func (ctl *ChatController) EditMessage(c *fiber.Ctx) error {
	me, msgID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.EditMessageRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	msg, err := ctl.Svc.EditMessage(c.UserContext(), me, msgID, req.Content)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonUpdated(c, "Pesan diubah", msg)
}

// DELETE /messages/:id
func (ctl *ChatController) DeleteMessage(c *fiber.Ctx) error {
	me, msgID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	msg, err := ctl.Svc.DeleteMessage(c.UserContext(), me, msgID)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonDeleted(c, "Pesan dihapus", msg)
}

/* ===================== attachments ===================== */

type uploadResult struct {
	FileName   string          `json:"file_name"`
	Attachment *attachment.Ref `json:"attachment,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// POST /rooms/:id/attachments (multipart: file / files[])
// Satu file → response biasa. Banyak file → status per file.
func (ctl *ChatController) UploadAttachment(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return helper.JsonError(c, fiber.StatusBadRequest, "Form multipart tidak valid")
	}
	files, _ := helperOSS.CollectUploadFiles(form, nil)
	if len(files) == 0 {
		return helper.JsonError(c, fiber.StatusBadRequest, "File wajib diunggah (field: file)")
	}

	results := make([]uploadResult, 0, len(files))
	var firstErr error
	for _, fh := range files {
		r := uploadResult{FileName: fh.Filename}
		ref, err := ctl.uploadOne(c, me, roomID, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, func() (io.ReadCloser, error) { return fh.Open() })
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.ErrorCode = string(chaterr.KindOf(err))
			r.Message = err.Error()
		}
		r.Attachment = ref
		results = append(results, r)
	}

	if len(files) == 1 {
		if firstErr != nil {
			return ctl.fail(c, firstErr)
		}
		return helper.JsonCreated(c, "File diunggah", results[0].Attachment)
	}
	return helper.JsonCreated(c, "Upload selesai", results)
}

func (ctl *ChatController) uploadOne(c *fiber.Ctx, me, roomID uuid.UUID, name, mime string, size int64, open func() (io.ReadCloser, error)) (*attachment.Ref, error) {
	// tolak lebih awal sebelum membaca isi file
	if err := ctl.Svc.Attachments.Validate(size, mime); err != nil {
		return nil, err
	}
	f, err := open()
	if err != nil {
		return nil, chaterr.New(chaterr.KindValidation, "file tidak bisa dibaca")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, ctl.Svc.Cfg.MaxAttachmentBytes+1))
	if err != nil {
		return nil, chaterr.New(chaterr.KindValidation, "file tidak bisa dibaca")
	}
	return ctl.Svc.UploadAttachment(c.UserContext(), attachment.Upload{
		RoomID:     roomID,
		UploaderID: me,
		FileName:   name,
		MimeType:   mime,
		SizeBytes:  size,
		Data:       data,
	})
}

/* ===================== read state ===================== */

// POST /rooms/:id/read
func (ctl *ChatController) MarkRead(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	var req dto.MarkReadRequest
	if err := ctl.bind(c, &req); err != nil {
		return err
	}
	res, err := ctl.Svc.MarkRead(c.UserContext(), me, roomID, req.UptoSeq)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonOK(c, "ok", res)
}

// GET /rooms/:id/unread
func (ctl *ChatController) UnreadCount(c *fiber.Ctx) error {
	me, roomID, err := ctl.caller(c, "id")
	if err != nil {
		return ctl.fail(c, err)
	}
	n, err := ctl.Svc.UnreadCount(c.UserContext(), me, roomID)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonOK(c, "ok", dto.UnreadCountResponse{RoomID: roomID, UnreadCount: n})
}

// GET /unread
func (ctl *ChatController) UnreadCounts(c *fiber.Ctx) error {
	me, err := helper.GetUserIDFromToken(c)
	if err != nil {
		return ctl.fail(c, err)
	}
	counts, err := ctl.Svc.UnreadCounts(c.UserContext(), me)
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonList(c, "ok", counts, nil)
}

/* ===================== admin ===================== */

// POST /api/a/chat/attachments/reap: jalankan GC orphan sekarang.
func (ctl *ChatController) ReapOrphans(c *fiber.Ctx) error {
	if ctl.Reaper == nil {
		return helper.JsonError(c, fiber.StatusServiceUnavailable, "Reaper tidak aktif")
	}
	n, err := ctl.Reaper.RunOnce(c.UserContext())
	if err != nil {
		return ctl.fail(c, err)
	}
	return helper.JsonOK(c, "ok", fiber.Map{"reaped": n, "dry_run": ctl.Reaper.DryRun})
}
