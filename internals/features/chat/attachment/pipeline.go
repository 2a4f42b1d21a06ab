// Package attachment validates, stores and tracks binary chat attachments.
package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/configs"
	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/model"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
	"sekolahchat_backend/internals/metrics"
)

const octetStream = "application/octet-stream"

type Upload struct {
	RoomID     uuid.UUID
	UploaderID uuid.UUID
	FileName   string
	MimeType   string // dari klien
	SizeBytes  int64  // dari klien
	Data       []byte
}

// Ref is the stable handle returned by an upload and later passed to
// appendMessage.
type Ref struct {
	AttachmentID uuid.UUID `json:"attachment_id"`
	RoomID       uuid.UUID `json:"room_id"`
	ObjectKey    string    `json:"object_key"`
	ThumbnailKey *string   `json:"thumbnail_key,omitempty"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	FileName     string    `json:"file_name"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

type Pipeline struct {
	DB      *gorm.DB
	Storage helperOSS.ObjectStorage
	Cfg     configs.ChatConfig
	Log     zerolog.Logger

	now func() time.Time
}

func NewPipeline(db *gorm.DB, storage helperOSS.ObjectStorage, cfg configs.ChatConfig, log zerolog.Logger) *Pipeline {
	return &Pipeline{DB: db, Storage: storage, Cfg: cfg, Log: log, now: func() time.Time { return time.Now().UTC() }}
}

func baseMime(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

func (p *Pipeline) allowed(mime string) bool {
	mime = baseMime(mime)
	for _, fam := range p.Cfg.AllowedMimeFamily {
		if strings.HasPrefix(mime, fam) {
			return true
		}
	}
	return false
}

// Validate checks the declared size and type. It does no I/O.
func (p *Pipeline) Validate(sizeBytes int64, mimeType string) error {
	if sizeBytes <= 0 {
		metrics.AttachmentsRejected.WithLabelValues("empty").Inc()
		return chaterr.New(chaterr.KindValidation, "file kosong")
	}
	if sizeBytes > p.Cfg.MaxAttachmentBytes {
		metrics.AttachmentsRejected.WithLabelValues("too_large").Inc()
		return chaterr.Newf(chaterr.KindPayloadTooLarge, "ukuran file maksimal %d MB", p.Cfg.MaxAttachmentBytes/(1024*1024))
	}
	if !p.allowed(mimeType) {
		metrics.AttachmentsRejected.WithLabelValues("unsupported_type").Inc()
		return chaterr.Newf(chaterr.KindUnsupportedType, "tipe file %q tidak didukung (hanya gambar/video)", baseMime(mimeType))
	}
	return nil
}

// sniff confirms the bytes match an allowed family and returns the mime type
// to store. Containers the detector does not know are accepted only when the
// client declared a video.
func (p *Pipeline) sniff(data []byte, declared string) (mime, ext string, err error) {
	m := mimetype.Detect(data)
	detected := baseMime(m.String())
	switch {
	case p.allowed(detected):
		return detected, m.Extension(), nil
	case detected == octetStream && strings.HasPrefix(baseMime(declared), "video/"):
		return baseMime(declared), "", nil
	}
	metrics.AttachmentsRejected.WithLabelValues("content_mismatch").Inc()
	return "", "", chaterr.Newf(chaterr.KindUnsupportedType, "isi file terdeteksi %q, bukan gambar/video", detected)
}

// ObjectKey builds chat/rooms/{room}/{yyyy}/{mm}/{ulid}{ext}.
func ObjectKey(roomID uuid.UUID, at time.Time, ext string) string {
	return fmt.Sprintf("chat/rooms/%s/%04d/%02d/%s%s", roomID, at.Year(), int(at.Month()), ulid.Make().String(), ext)
}

func family(mime string) string {
	if i := strings.IndexByte(mime, '/'); i > 0 {
		return mime[:i]
	}
	return "other"
}

func thumbKey(key string) string {
	return strings.TrimSuffix(key, filepath.Ext(key)) + "_thumb.webp"
}

// Upload stores the bytes and records an unlinked attachment row. Size and
// type are rejected before anything touches storage.
func (p *Pipeline) Upload(ctx context.Context, in Upload) (*Ref, error) {
	size := max(in.SizeBytes, int64(len(in.Data)))
	if err := p.Validate(size, in.MimeType); err != nil {
		return nil, err
	}
	mime, ext, err := p.sniff(in.Data, in.MimeType)
	if err != nil {
		return nil, err
	}
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(in.FileName))
	}

	now := p.now()
	key := ObjectKey(in.RoomID, now, ext)
	if err := p.Storage.PutObject(ctx, key, in.Data, mime); err != nil {
		return nil, chaterr.Store(err, "simpan attachment ke storage")
	}

	var thumb *string
	if strings.HasPrefix(mime, "image/") {
		thumb = p.thumbnail(ctx, key, in.Data)
	}

	row := model.AttachmentModel{
		ChatAttachmentRoomID:       in.RoomID,
		ChatAttachmentUploaderID:   in.UploaderID,
		ChatAttachmentObjectKey:    key,
		ChatAttachmentThumbnailKey: thumb,
		ChatAttachmentMimeType:     mime,
		ChatAttachmentSizeBytes:    int64(len(in.Data)),
		ChatAttachmentFileName:     cleanFileName(in.FileName),
		ChatAttachmentCreatedAt:    now,
	}
	if err := p.DB.WithContext(ctx).Create(&row).Error; err != nil {
		keys := []string{key}
		if thumb != nil {
			keys = append(keys, *thumb)
		}
		if derr := p.Storage.DeleteObjects(context.WithoutCancel(ctx), keys); derr != nil {
			p.Log.Warn().Err(derr).Strs("keys", keys).Msg("chat attachment: orphan object, metadata gagal disimpan")
		}
		return nil, chaterr.Store(err, "simpan metadata attachment")
	}

	metrics.AttachmentsUploaded.WithLabelValues(family(mime)).Inc()
	metrics.AttachmentBytes.Observe(float64(row.ChatAttachmentSizeBytes))
	return p.ToRef(&row), nil
}

func (p *Pipeline) thumbnail(ctx context.Context, key string, data []byte) *string {
	img, err := helperOSS.MakeWebPThumbnail(data, p.Cfg.ThumbnailSize)
	if err != nil {
		p.Log.Debug().Err(err).Str("key", key).Msg("chat attachment: thumbnail dilewati")
		return nil
	}
	tk := thumbKey(key)
	if err := p.Storage.PutObject(ctx, tk, img, "image/webp"); err != nil {
		p.Log.Warn().Err(err).Str("key", tk).Msg("chat attachment: upload thumbnail gagal")
		return nil
	}
	return &tk
}

// PublicURL is deterministic in the object key; no store lookup.
func (p *Pipeline) PublicURL(objectKey string) string {
	return p.Storage.PublicURL(objectKey)
}

func (p *Pipeline) ToRef(a *model.AttachmentModel) *Ref {
	if a == nil {
		return nil
	}
	ref := &Ref{
		AttachmentID: a.ChatAttachmentID,
		RoomID:       a.ChatAttachmentRoomID,
		ObjectKey:    a.ChatAttachmentObjectKey,
		ThumbnailKey: a.ChatAttachmentThumbnailKey,
		MimeType:     a.ChatAttachmentMimeType,
		SizeBytes:    a.ChatAttachmentSizeBytes,
		FileName:     a.ChatAttachmentFileName,
		URL:          p.PublicURL(a.ChatAttachmentObjectKey),
	}
	if a.ChatAttachmentThumbnailKey != nil {
		ref.ThumbnailURL = p.PublicURL(*a.ChatAttachmentThumbnailKey)
	}
	return ref
}

// LogOrphan records an uploaded attachment whose message was never created.
// The reaper removes it after the retention window.
func (p *Pipeline) LogOrphan(ref *Ref, cause error) {
	if ref == nil {
		return
	}
	p.Log.Warn().
		Err(cause).
		Str("attachment_id", ref.AttachmentID.String()).
		Str("room_id", ref.RoomID.String()).
		Str("object_key", ref.ObjectKey).
		Dur("gc_after", p.Cfg.OrphanRetention).
		Msg("chat attachment: orphan, append pesan gagal")
}

func cleanFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	if r := []rune(name); len(r) > 255 {
		name = string(r[:255])
	}
	return name
}
