// Package housekeeping runs periodic maintenance of the archive payload
// cache while the server is up.
package housekeeping

import (
	"context"
	"log"
	"time"

	"github.com/lox/wandiforecast/internal/store"
)

const (
	DefaultRetentionDays = 90
	DefaultInterval      = 6 * time.Hour
)

type Scheduler struct {
	store         *store.Store
	retentionDays int
	interval      time.Duration
}

func NewScheduler(st *store.Store, retentionDays int, interval time.Duration) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{store: st, retentionDays: retentionDays, interval: interval}
}

// Run prunes immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("housekeeping: shutting down")
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce deletes expired payloads and logs the last day's fetch health.
// It returns the number of payloads removed.
func (s *Scheduler) RunOnce() int64 {
	n, err := s.store.CleanupOldArchivePayloads(s.retentionDays)
	if err != nil {
		log.Printf("housekeeping: cleanup payloads: %v", err)
	} else if n > 0 {
		log.Printf("housekeeping: deleted %d payloads older than %d days", n, s.retentionDays)
	}

	health, err := s.store.GetFetchHealth(1)
	if err != nil {
		log.Printf("housekeeping: fetch health: %v", err)
		return n
	}
	for _, h := range health {
		if h.FailedRuns > 0 {
			log.Printf("housekeeping: %s %s fetches: %d ok, %d failed", h.Date, h.Granularity, h.SuccessRuns, h.FailedRuns)
		}
	}
	return n
}
