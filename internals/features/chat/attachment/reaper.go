package attachment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sekolahchat_backend/internals/features/chat/model"
	helperOSS "sekolahchat_backend/internals/helpers/oss"
	"sekolahchat_backend/internals/metrics"
)

const reaperBatch = 500

// Reaper hapus attachment yang tidak pernah di-link ke pesan setelah
// Retention lewat, beserta objek & thumbnail-nya.
type Reaper struct {
	DB        *gorm.DB
	Storage   helperOSS.ObjectStorage
	Retention time.Duration
	DryRun    bool
	Log       zerolog.Logger

	now func() time.Time
}

func NewReaper(db *gorm.DB, storage helperOSS.ObjectStorage, retention time.Duration, dryRun bool, log zerolog.Logger) *Reaper {
	return &Reaper{
		DB: db, Storage: storage, Retention: retention, DryRun: dryRun, Log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce processes orphans in batches and returns how many were removed
// (or would be, in dry-run mode).
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.Retention)
	total := 0

	for {
		var rows []model.AttachmentModel
		q := r.DB.WithContext(ctx).
			Where("chat_attachment_message_id IS NULL AND chat_attachment_created_at < ?", cutoff).
			Order("chat_attachment_created_at ASC").
			Limit(reaperBatch)
		if r.DryRun {
			q = q.Offset(total)
		}
		if err := q.Find(&rows).Error; err != nil {
			return total, err
		}
		if len(rows) == 0 {
			break
		}

		if r.DryRun {
			keys := make([]string, 0, len(rows)*2)
			for _, a := range rows {
				keys = append(keys, objectKeys(a)...)
			}
			r.Log.Info().Int("rows", len(rows)).Strs("keys", keys).Msg("[CHAT-REAPER] DRY-RUN would delete")
			total += len(rows)
			if len(rows) < reaperBatch {
				break
			}
			continue
		}

		// baris dihapus dulu: append yang datang belakangan gagal link,
		// jadi tidak ada pesan yang menunjuk objek yang sudah hilang
		gone, err := r.claim(ctx, rows)
		if err != nil {
			return total, err
		}
		keys := make([]string, 0, len(gone)*2)
		for _, a := range gone {
			keys = append(keys, objectKeys(a)...)
		}
		total += len(gone)
		metrics.OrphansReaped.Add(float64(len(gone)))

		if len(keys) > 0 {
			if err := r.Storage.DeleteObjects(ctx, keys); err != nil {
				r.Log.Error().Err(err).Strs("keys", keys).Msg("[CHAT-REAPER] objek yatim gagal dihapus dari storage")
				return total, err
			}
		}

		if len(rows) < reaperBatch {
			break
		}
	}

	if total == 0 {
		r.Log.Debug().Time("cutoff", cutoff).Msg("[CHAT-REAPER] nothing to delete")
	} else {
		r.Log.Info().Int("deleted", total).Bool("dry_run", r.DryRun).Time("cutoff", cutoff).Msg("[CHAT-REAPER] orphan attachments")
	}
	return total, nil
}

// claim deletes the rows that are still unlinked and returns them. Rows a
// concurrent append linked in the meantime survive and are skipped.
func (r *Reaper) claim(ctx context.Context, rows []model.AttachmentModel) ([]model.AttachmentModel, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.ChatAttachmentID)
	}
	var gone []model.AttachmentModel
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("chat_attachment_id IN ? AND chat_attachment_message_id IS NULL", ids).
			Delete(&model.AttachmentModel{}).Error; err != nil {
			return err
		}
		var survivors []uuid.UUID
		if err := tx.Model(&model.AttachmentModel{}).
			Where("chat_attachment_id IN ?", ids).
			Pluck("chat_attachment_id", &survivors).Error; err != nil {
			return err
		}
		kept := make(map[uuid.UUID]bool, len(survivors))
		for _, id := range survivors {
			kept[id] = true
		}
		for _, a := range rows {
			if !kept[a.ChatAttachmentID] {
				gone = append(gone, a)
			}
		}
		return nil
	})
	return gone, err
}

func objectKeys(a model.AttachmentModel) []string {
	keys := []string{a.ChatAttachmentObjectKey}
	if a.ChatAttachmentThumbnailKey != nil {
		keys = append(keys, *a.ChatAttachmentThumbnailKey)
	}
	return keys
}

// StartReaperCron menjadwalkan RunOnce. Panggil Stop() pada cron saat shutdown.
func StartReaperCron(r *Reaper, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&r.Log))))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.Log.Error().Err(err).Msg("[CHAT-REAPER] run gagal")
		}
	})
	if err != nil {
		return nil, err
	}
	r.Log.Info().Str("schedule", schedule).Dur("retention", r.Retention).Bool("dry_run", r.DryRun).Msg("[CHAT-REAPER] started")
	c.Start()
	return c, nil
}
