package auditchain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultVerificationInterval is used when the scheduler is given no interval.
const DefaultVerificationInterval = time.Hour

// Observer receives every scheduled verification result.
type Observer func(res *VerificationResult)

// BrokenHandler is called once each time the chain transitions from verified to broken.
type BrokenHandler func(ctx context.Context, res *VerificationResult)

// Scheduler runs the Verifier periodically.
type Scheduler struct {
	verifier  *Verifier
	interval  time.Duration
	observers []Observer
	onBroken  BrokenHandler
	logger    *zap.Logger

	mu        sync.Mutex
	last      *VerificationResult
	wasBroken bool
}

// NewScheduler creates a Scheduler. A zero interval selects DefaultVerificationInterval.
func NewScheduler(verifier *Verifier, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultVerificationInterval
	}
	return &Scheduler{verifier: verifier, interval: interval, logger: logger}
}

// AddObserver registers fn to receive each result. Not safe to call after Start.
func (s *Scheduler) AddObserver(fn Observer) {
	s.observers = append(s.observers, fn)
}

// SetBrokenHandler configures the callback fired when the chain becomes broken.
func (s *Scheduler) SetBrokenHandler(fn BrokenHandler) {
	s.onBroken = fn
}

// Last returns the most recent result, or nil before the first run.
func (s *Scheduler) Last() *VerificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start runs verification on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("audit chain verification scheduled", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, s.interval)
			s.RunOnce(rctx) //nolint:errcheck
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce verifies the chain immediately and notifies observers.
func (s *Scheduler) RunOnce(ctx context.Context) (*VerificationResult, error) {
	start := time.Now()
	res, err := s.verifier.Verify(ctx)
	if err != nil {
		s.logger.Error("audit chain verification could not run", zap.Error(err))
		return nil, err
	}

	if res.Valid() {
		s.logger.Info("audit chain verification passed",
			zap.String("status", string(res.Status)),
			zap.Int64("entries", res.TotalEntries),
			zap.Duration("elapsed", time.Since(start)),
		)
	} else {
		s.logger.Error("AUDIT CHAIN INTEGRITY VIOLATION",
			zap.Int64("entry_id", res.BrokenLink.EntryID),
			zap.Int64("verified_entries", res.VerifiedEntries),
			zap.Int64("total_entries", res.TotalEntries),
		)
	}

	s.mu.Lock()
	s.last = res
	transitioned := !res.Valid() && !s.wasBroken
	s.wasBroken = !res.Valid()
	s.mu.Unlock()

	for _, fn := range s.observers {
		fn(res)
	}
	if transitioned && s.onBroken != nil {
		s.onBroken(ctx, res)
	}
	return res, nil
}
