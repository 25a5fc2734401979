// Package janitor periodically aborts abandoned multipart sessions and
// removes objects whose expiration has passed.
package janitor

import (
	"context"
	"log"
	"time"

	"github.com/maneesh/filedrop/internal/models"
)

const batchSize = 100

// SessionSource lists and forgets tracked multipart sessions
type SessionSource interface {
	StaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.UploadSession, error)
	ForgetSession(ctx context.Context, sessionID string) error
}

// ExpiredSource lists expired uploads and marks them purged
type ExpiredSource interface {
	ExpiredUploads(ctx context.Context, now time.Time, limit int) ([]*models.LedgerEntry, error)
	MarkPurged(ctx context.Context, id string) error
}

// Store is the storage backend the janitor cleans
type Store interface {
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	RemoveObject(ctx context.Context, key string) error
}

// Config holds the janitor's dependencies. Sessions and Expired are
// optional; a nil source skips that sweep.
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Store      Store
	Sessions   SessionSource
	Expired    ExpiredSource
	Now        func() time.Time
}

// Report counts what one sweep did
type Report struct {
	SessionsAborted int
	ObjectsPurged   int
	Failures        int
}

// Run sweeps immediately and then on every tick until ctx is done
func Run(ctx context.Context, cfg Config) {
	if cfg.Sessions == nil && cfg.Expired == nil {
		log.Printf("service=janitor msg=%q", "disabled")
		return
	}

	log.Printf("service=janitor msg=%q interval=%s stale_after=%s", "starting", cfg.Interval, cfg.StaleAfter)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	Sweep(ctx, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=janitor msg=%q", "shutting_down")
			return
		case <-ticker.C:
			Sweep(ctx, cfg)
		}
	}
}

// Sweep performs one cleanup pass
func Sweep(ctx context.Context, cfg Config) Report {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	var report Report
	start := now()

	if cfg.Sessions != nil {
		abortStaleSessions(ctx, cfg, start, &report)
	}
	if cfg.Expired != nil {
		purgeExpired(ctx, cfg, start, &report)
	}

	log.Printf("service=janitor msg=%q aborted=%d purged=%d failures=%d ms=%d",
		"sweep_complete", report.SessionsAborted, report.ObjectsPurged, report.Failures,
		time.Since(start).Milliseconds())
	return report
}

func abortStaleSessions(ctx context.Context, cfg Config, now time.Time, report *Report) {
	sessions, err := cfg.Sessions.StaleSessions(ctx, now.Add(-cfg.StaleAfter), batchSize)
	if err != nil {
		log.Printf("service=janitor msg=%q err=%v", "stale_sessions_query_failed", err)
		report.Failures++
		return
	}

	for _, s := range sessions {
		if err := cfg.Store.AbortMultipartUpload(ctx, s.ObjectKey, s.SessionID); err != nil {
			// The session may already be gone; forget it either way so it is not retried forever.
			log.Printf("service=janitor msg=%q session=%s key=%s err=%v", "abort_failed", s.SessionID, s.ObjectKey, err)
			report.Failures++
		} else {
			report.SessionsAborted++
		}
		if err := cfg.Sessions.ForgetSession(ctx, s.SessionID); err != nil {
			log.Printf("service=janitor msg=%q session=%s err=%v", "forget_failed", s.SessionID, err)
		}
	}
}

func purgeExpired(ctx context.Context, cfg Config, now time.Time, report *Report) {
	entries, err := cfg.Expired.ExpiredUploads(ctx, now, batchSize)
	if err != nil {
		log.Printf("service=janitor msg=%q err=%v", "expired_query_failed", err)
		report.Failures++
		return
	}

	for _, e := range entries {
		if err := cfg.Store.RemoveObject(ctx, e.ID); err != nil {
			log.Printf("service=janitor msg=%q id=%s err=%v", "remove_failed", e.ID, err)
			report.Failures++
			continue
		}
		if err := cfg.Expired.MarkPurged(ctx, e.ID); err != nil {
			log.Printf("service=janitor msg=%q id=%s err=%v", "mark_purged_failed", e.ID, err)
			report.Failures++
			continue
		}
		report.ObjectsPurged++
	}
}
