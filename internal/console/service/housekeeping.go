package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/store"
)

// DefaultActionCodeRetention is how long submitted action codes are kept.
// Identity backends expire their codes well within this window.
const DefaultActionCodeRetention = 30 * 24 * time.Hour

// HousekeepingService periodically removes expired cookies and old action
// code records from the local store.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to one hour.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:     s,
		Logger:    logger,
		Interval:  interval,
		Retention: DefaultActionCodeRetention,
		Now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs cleanup now and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts the worker down and waits for an in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes expired cookies and action codes older than Retention in
// one transaction.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := s.Now()
	var cookies, codes int64

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if cookies, err = tx.Cookies().DeleteExpiredCookies(ctx, now); err != nil {
			return err
		}
		codes, err = tx.ActionCodes().DeleteActionCodesBefore(ctx, now.Add(-s.Retention))
		return err
	})
	if err != nil {
		s.Logger.Error("housekeeping cleanup failed", "error", err)
		return
	}
	s.Logger.Info("housekeeping cleanup completed", "cookies_deleted", cookies, "action_codes_deleted", codes)
}
