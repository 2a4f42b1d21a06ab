// Package session drives one open conversation view: history, realtime
// echo, sending and read-marking for a single user.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sekolahchat_backend/internals/features/chat/attachment"
	"sekolahchat_backend/internals/features/chat/chaterr"
	"sekolahchat_backend/internals/features/chat/dto"
	"sekolahchat_backend/internals/features/chat/realtime"
	"sekolahchat_backend/internals/features/chat/service"
	"sekolahchat_backend/internals/features/chat/store"
)

// Backend is the chat API a session talks to. *service.ChatService
// satisfies it in-process.
type Backend interface {
	ListMessages(ctx context.Context, me uuid.UUID, q store.ListQuery) (*dto.MessagePage, error)
	SendMessage(ctx context.Context, in service.SendInput) (*dto.MessageResponse, error)
	UploadAttachment(ctx context.Context, in attachment.Upload) (*attachment.Ref, error)
	MarkRead(ctx context.Context, me, roomID uuid.UUID, uptoSeq int64) (*dto.ReadCursorResponse, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func(realtime.Event)) (realtime.Subscription, error)
}

type State int

const (
	StateIdle State = iota
	StateLoadingHistory
	StateReady
	StateSending
)

func (s State) String() string {
	switch s {
	case StateLoadingHistory:
		return "loading_history"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	default:
		return "idle"
	}
}

type DraftAttachment struct {
	FileName string
	MimeType string
	Data     []byte
}

type Draft struct {
	Text        string
	Attachments []DraftAttachment
}

func (d Draft) empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0
}

// fingerprint identifies a pending input so the same draft cannot be
// submitted twice while the first submission is in flight.
func (d Draft) fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(d.Text)))
	for _, a := range d.Attachments {
		sum := sha256.Sum256(a.Data)
		h.Write([]byte{0})
		h.Write([]byte(a.FileName))
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

type AttachmentResult struct {
	FileName string
	Message  *dto.MessageResponse
	Err      error
}

// SendResult reports every part of a send independently.
type SendResult struct {
	Attachments []AttachmentResult
	Text        *dto.MessageResponse
	TextErr     error
}

// Failed reports whether any part of the send failed.
func (r *SendResult) Failed() bool {
	if r.TextErr != nil {
		return true
	}
	for _, a := range r.Attachments {
		if a.Err != nil {
			return true
		}
	}
	return false
}

type Option func(*Controller)

// WithBackOff overrides the retry policy for idempotent reads.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Controller) { c.newBackOff = f }
}

func WithPageSize(n int) Option {
	return func(c *Controller) { c.pageSize = n }
}

// WithOnChange registers a callback fired after every visible change. It
// runs without the controller lock held.
func WithOnChange(f func()) Option {
	return func(c *Controller) { c.onChange = f }
}

type Controller struct {
	backend    Backend
	sub        Subscriber
	me         uuid.UUID
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
	pageSize   int
	onChange   func()

	mu           sync.Mutex
	state        State
	gen          uint64
	roomID       uuid.UUID
	subscription realtime.Subscription
	messages     []dto.MessageResponse
	hasMore      bool
	draft        Draft
	pending      map[string]struct{} // fingerprint draft yang sedang dikirim, per gen
	inFlight     int
	lastErr      error
}

func New(backend Backend, sub Subscriber, me uuid.UUID, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		sub:      sub,
		me:       me,
		log:      log,
		pageSize: store.DefaultPageSize,
		pending:  map[string]struct{}{},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

/* ===================== accessors ===================== */

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) RoomID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Messages returns the confirmed timeline ordered by seq.
func (c *Controller) Messages() []dto.MessageResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dto.MessageResponse(nil), c.messages...)
}

func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Controller) SetDraft(d Draft) {
	c.mu.Lock()
	c.draft = d
	c.mu.Unlock()
}

// LastError is the most recent failure worth surfacing as a toast.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

/* ===================== open / close ===================== */

// OpenRoom loads the latest page, subscribes to the room topic and marks
// the newest loaded message as read. An already open room is closed first.
func (c *Controller) OpenRoom(ctx context.Context, roomID uuid.UUID) error {
	c.CloseRoom()

	c.mu.Lock()
	c.nextGen()
	gen := c.gen
	c.state = StateLoadingHistory
	c.roomID = roomID
	c.messages = nil
	c.hasMore = false
	c.lastErr = nil
	c.mu.Unlock()
	c.changed()

	// subscribe dulu supaya tidak ada celah antara history dan realtime
	sub, err := c.sub.Subscribe(context.Background(), realtime.RoomTopic(roomID), func(ev realtime.Event) {
		c.handleEvent(gen, ev)
	})
	if err != nil {
		// realtime mati: tetap bisa dipakai dengan refresh manual
		c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("chat session: subscribe gagal")
		sub = nil
	}

	page, err := c.loadLatest(ctx, roomID)
	if err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateIdle
			c.roomID = uuid.Nil
			c.lastErr = err
		}
		c.mu.Unlock()
		c.changed()
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil
	}
	c.subscription = sub
	c.merge(page.Messages...)
	c.hasMore = page.HasMore
	c.state = StateReady
	latest := c.latestSeq()
	c.mu.Unlock()
	c.changed()

	if latest > 0 {
		if _, err := c.backend.MarkRead(ctx, c.me, roomID, latest); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("chat session: mark read gagal")
		}
	}
	return nil
}

// CloseRoom unsubscribes. In-flight sends keep running; their results no
// longer touch this view.
func (c *Controller) CloseRoom() {
	c.mu.Lock()
	sub := c.subscription
	c.subscription = nil
	wasOpen := c.state != StateIdle
	c.nextGen()
	c.state = StateIdle
	c.roomID = uuid.Nil
	c.messages = nil
	c.hasMore = false
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if wasOpen {
		c.changed()
	}
}

// nextGen starts a new view generation. Sends still running from the old
// one keep their own bookkeeping and no longer count here. Caller holds mu.
func (c *Controller) nextGen() {
	c.gen++
	c.pending = map[string]struct{}{}
	c.inFlight = 0
}

// MarkSeen marks everything currently loaded as read, e.g. after scrolling
// to the bottom.
func (c *Controller) MarkSeen(ctx context.Context) error {
	c.mu.Lock()
	roomID, latest, open := c.roomID, c.latestSeq(), c.state != StateIdle
	c.mu.Unlock()
	if !open || latest == 0 {
		return nil
	}
	_, err := c.backend.MarkRead(ctx, c.me, roomID, latest)
	return err
}

// LoadOlder fetches the page before the oldest loaded message.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle || !c.hasMore || len(c.messages) == 0 {
		c.mu.Unlock()
		return nil
	}
	gen, roomID, before := c.gen, c.roomID, c.messages[0].Seq
	c.mu.Unlock()

	var page *dto.MessagePage
	err := c.retry(ctx, func() error {
		var err error
		page, err = c.backend.ListMessages(ctx, c.me, store.ListQuery{RoomID: roomID, BeforeSeq: before, Limit: c.pageSize, Ascending: true})
		return err
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.merge(page.Messages...)
		c.hasMore = page.HasMore
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

func (c *Controller) loadLatest(ctx context.Context, roomID uuid.UUID) (*dto.MessagePage, error) {
	var page *dto.MessagePage
	err := c.retry(ctx, func() error {
		var err error
		page, err = c.backend.ListMessages(ctx, c.me, store.ListQuery{RoomID: roomID, Limit: c.pageSize, Ascending: true})
		return err
	})
	return page, err
}

// retry re-runs an idempotent read while it fails with a transient error.
func (c *Controller) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(c.newBackOff(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !chaterr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

/* ===================== realtime ===================== */

func (c *Controller) handleEvent(gen uint64, ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventMessageCreated, realtime.EventMessageUpdated, realtime.EventMessageDeleted:
		var m dto.MessageResponse
		if err := ev.DecodeData(&m); err != nil || m.Seq == 0 {
			c.refetch(gen)
			return
		}
		c.mu.Lock()
		if c.gen != gen || c.state == StateIdle || m.RoomID != c.roomID {
			c.mu.Unlock()
			return
		}
		c.merge(m)
		c.mu.Unlock()
		c.changed()
	case realtime.EventMalformed:
		c.refetch(gen)
	}
}

// refetch reloads the latest page after an event the session could not
// apply incrementally.
func (c *Controller) refetch(gen uint64) {
	c.mu.Lock()
	roomID, open := c.roomID, c.gen == gen && c.state != StateIdle
	c.mu.Unlock()
	if !open {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		page, err := c.loadLatest(ctx, roomID)
		if err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("chat session: refetch gagal")
			return
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.merge(page.Messages...)
		c.mu.Unlock()
		c.changed()
	}()
}

// merge upserts by seq and keeps the timeline ordered. Caller holds mu.
func (c *Controller) merge(ms ...dto.MessageResponse) {
	for _, m := range ms {
		i := sort.Search(len(c.messages), func(i int) bool { return c.messages[i].Seq >= m.Seq })
		if i < len(c.messages) && c.messages[i].Seq == m.Seq {
			c.messages[i] = m
			continue
		}
		c.messages = append(c.messages, dto.MessageResponse{})
		copy(c.messages[i+1:], c.messages[i:])
		c.messages[i] = m
	}
}

func (c *Controller) latestSeq() int64 {
	if len(c.messages) == 0 {
		return 0
	}
	return c.messages[len(c.messages)-1].Seq
}

/* ===================== send ===================== */

// Send submits the draft. The input is cleared before any network call and
// sent messages appear through the realtime echo, not locally. Attachments
// upload one by one and each becomes its own message; the text goes last.
// The returned error covers only rejections of the whole submission.
func (c *Controller) Send(ctx context.Context, d Draft) (*SendResult, error) {
	if d.empty() {
		return nil, chaterr.New(chaterr.KindEmptyMessage, "pesan kosong")
	}
	fp := d.fingerprint()

	c.mu.Lock()
	if c.state == StateIdle || c.state == StateLoadingHistory {
		c.mu.Unlock()
		return nil, chaterr.New(chaterr.KindValidation, "room belum siap")
	}
	if _, dup := c.pending[fp]; dup {
		c.mu.Unlock()
		return nil, chaterr.New(chaterr.KindDuplicateSubmission, "pesan yang sama sedang dikirim")
	}
	c.pending[fp] = struct{}{}
	c.inFlight++
	c.state = StateSending
	c.draft = Draft{}
	gen, roomID := c.gen, c.roomID
	c.mu.Unlock()
	c.changed()

	res := c.deliver(ctx, roomID, d)

	c.mu.Lock()
	if c.gen == gen {
		delete(c.pending, fp)
		c.inFlight--
		if c.inFlight == 0 {
			c.state = StateReady
		}
		if res.Failed() {
			c.lastErr = firstErr(res)
		}
	}
	c.mu.Unlock()
	c.changed()
	return res, nil
}

func (c *Controller) deliver(ctx context.Context, roomID uuid.UUID, d Draft) *SendResult {
	res := &SendResult{}
	for _, a := range d.Attachments {
		r := AttachmentResult{FileName: a.FileName}
		ref, err := c.backend.UploadAttachment(ctx, attachment.Upload{
			RoomID:     roomID,
			UploaderID: c.me,
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  int64(len(a.Data)),
			Data:       a.Data,
		})
		if err == nil {
			r.Message, err = c.backend.SendMessage(ctx, service.SendInput{RoomID: roomID, SenderID: c.me, AttachmentID: &ref.AttachmentID})
		}
		r.Err = err
		res.Attachments = append(res.Attachments, r)
	}
	if text := strings.TrimSpace(d.Text); text != "" {
		res.Text, res.TextErr = c.backend.SendMessage(ctx, service.SendInput{RoomID: roomID, SenderID: c.me, Content: &text})
	}
	return res
}

func firstErr(r *SendResult) error {
	for _, a := range r.Attachments {
		if a.Err != nil {
			return a.Err
		}
	}
	return r.TextErr
}
