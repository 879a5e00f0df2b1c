// Package publish republishes local identities when their content changes.
//
// Each local identity has its own Scheduler. A Scheduler polls the store,
// compares the content fingerprint with the last published one and publishes a
// fresh document once the content has been stable for the debounce interval.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/document"
	"github.com/TheSeeker/Sone-sub000/internal/metrics"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// Store is the part of the indexed store the scheduler reads and updates.
type Store interface {
	Sone(id string) (sone.Sone, bool)
	Fingerprint(id string) (string, bool)
	IsLocked(id string) bool
	SetStatus(id string, status sone.Status)
	SetTime(id string, t time.Time)
	SetLatestEdition(id string, edition int64)
}

// Encoder turns a snapshot into a publishable document.
type Encoder interface {
	Encode(s sone.Sone) (*document.Publication, error)
}

// Phase is the state of a Scheduler.
type Phase int

const (
	// PhaseWatching: content equals the last published content, or nothing has
	// been observed yet.
	PhaseWatching Phase = iota
	// PhaseLocked: the identity is administratively locked and not published.
	PhaseLocked
	// PhaseDebounced: content changed and the scheduler waits for it to settle.
	PhaseDebounced
	// PhasePublishing: a publish is in flight.
	PhasePublishing
)

func (p Phase) String() string {
	switch p {
	case PhaseLocked:
		return "locked"
	case PhaseDebounced:
		return "debounced"
	case PhasePublishing:
		return "publishing"
	default:
		return "watching"
	}
}

// State is a copy of the scheduler's bookkeeping.
type State struct {
	Phase                    Phase
	Fingerprint              string
	FirstChange              time.Time
	LastPublishedFingerprint string
	Modified                 bool
}

// Config holds the scheduler timings.
type Config struct {
	// PollInterval is the time between two ticks of Run.
	PollInterval time.Duration

	// Debounce returns the quiet period required before publishing. It is
	// called on every tick, so changes apply immediately.
	Debounce func() time.Duration

	// PublishTimeout bounds a single substrate publish.
	PublishTimeout time.Duration
}

// ErrPublishInFlight is returned by Tick when another publish of the same
// identity has not finished yet.
var ErrPublishInFlight = errors.New("publish in flight")

// Scheduler publishes one local identity.
type Scheduler struct {
	soneID      string
	store       Store
	encoder     Encoder
	substrate   sone.Substrate
	checkpoints sone.Checkpoints
	clock       sone.Clock
	logger      sone.Logger
	metrics     *metrics.Collector
	cfg         Config

	mu         sync.Mutex
	state      State
	publishing bool
}

// NewScheduler creates a scheduler for the local identity soneID.
// checkpoints and m may be nil.
func NewScheduler(soneID string, store Store, encoder Encoder, substrate sone.Substrate, checkpoints sone.Checkpoints, clock sone.Clock, logger sone.Logger, m *metrics.Collector, cfg Config) *Scheduler {
	if logger == nil {
		logger = sone.NewNopLogger()
	}
	if cfg.Debounce == nil {
		d := time.Minute
		cfg.Debounce = func() time.Duration { return d }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Minute
	}
	return &Scheduler{
		soneID:      soneID,
		store:       store,
		encoder:     encoder,
		substrate:   substrate,
		checkpoints: checkpoints,
		clock:       clock,
		logger:      logger,
		metrics:     m,
		cfg:         cfg,
	}
}

// SoneID returns the identity this scheduler publishes.
func (s *Scheduler) SoneID() string {
	return s.soneID
}

// State returns a copy of the current bookkeeping.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoadCheckpoint seeds the last published fingerprint and the latest edition
// from the persisted checkpoint, if any.
func (s *Scheduler) LoadCheckpoint(ctx context.Context) error {
	if s.checkpoints == nil {
		return nil
	}
	cp, err := s.checkpoints.LoadPublishCheckpoint(ctx, s.soneID)
	if err != nil {
		return fmt.Errorf("loading publish checkpoint: %w", err)
	}
	if cp == nil {
		return nil
	}
	s.store.SetLatestEdition(s.soneID, cp.Edition)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastPublishedFingerprint = cp.Fingerprint
	return nil
}

// Run ticks every poll interval until ctx is done. A publish in flight when ctx
// is cancelled is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.LoadCheckpoint(ctx); err != nil {
		s.logger.Error("publish checkpoint unavailable", "sone", s.soneID, "error", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("publish tick failed", "sone", s.soneID, "error", err)
			}
		}
	}
}

// Tick runs one step of the state machine and publishes if the debounce
// interval has elapsed since the first unpublished change.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot, ok := s.store.Sone(s.soneID)
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, s.soneID)
	}
	fingerprint := sone.Fingerprint(snapshot)
	now := s.clock.Now()

	s.mu.Lock()
	if s.publishing {
		s.mu.Unlock()
		return ErrPublishInFlight
	}
	st := &s.state

	if s.store.IsLocked(s.soneID) {
		st.Phase = PhaseLocked
		st.Fingerprint = fingerprint
		st.Modified = fingerprint != st.LastPublishedFingerprint
		st.FirstChange = time.Time{}
		s.mu.Unlock()
		return nil
	}

	if fingerprint != st.Fingerprint {
		st.Fingerprint = fingerprint
		if fingerprint == st.LastPublishedFingerprint {
			st.Modified = false
			st.FirstChange = time.Time{}
		} else {
			st.Modified = true
			st.FirstChange = now
		}
	}
	if st.Modified && st.FirstChange.IsZero() {
		// Unlocked again, or the last publish failed.
		st.FirstChange = now
	}

	if !st.Modified {
		st.Phase = PhaseWatching
		s.mu.Unlock()
		return nil
	}
	if now.Sub(st.FirstChange) < s.cfg.Debounce() {
		st.Phase = PhaseDebounced
		s.mu.Unlock()
		return nil
	}

	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	st.Phase = PhasePublishing
	s.publishing = true
	s.mu.Unlock()

	return s.publish(ctx, snapshot)
}

// publish encodes and publishes snapshot. The substrate call runs on a context
// that outlives ctx, bounded by the publish timeout.
func (s *Scheduler) publish(ctx context.Context, snapshot sone.Sone) (err error) {
	s.store.SetStatus(s.soneID, sone.StatusInserting)
	defer s.store.SetStatus(s.soneID, sone.StatusIdle)

	defer func() {
		if err != nil {
			s.mu.Lock()
			s.publishing = false
			s.state.FirstChange = s.clock.Now()
			s.state.Phase = PhaseDebounced
			s.mu.Unlock()
		}
	}()

	snapshot.Time = s.clock.Now()
	pub, err := s.encoder.Encode(snapshot)
	if err != nil {
		s.logger.Error("encoding sone failed", "sone", s.soneID, "error", err)
		return fmt.Errorf("encoding sone %s: %w", s.soneID, err)
	}

	address := snapshot.InsertAddress
	if address == "" {
		address = snapshot.RequestAddress
	}

	s.logger.Info("publishing sone", "sone", s.soneID, "address", address)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	edition, err := s.substrate.Publish(pctx, address, pub.Document, pub.Manifest)
	if err != nil {
		s.metrics.ObservePublish(metrics.PublishFailure, time.Since(start))
		s.logger.Error("publishing sone failed", "sone", s.soneID, "error", err)
		return fmt.Errorf("publishing sone %s: %w", s.soneID, err)
	}
	s.metrics.ObservePublish(metrics.PublishSuccess, time.Since(start))
	s.logger.Info("published sone", "sone", s.soneID, "edition", edition)

	if ctx.Err() != nil {
		s.logger.Warn("shut down during publish, not recording edition", "sone", s.soneID, "edition", edition)
		s.mu.Lock()
		s.publishing = false
		s.mu.Unlock()
		return nil
	}

	s.store.SetTime(s.soneID, snapshot.Time)
	s.store.SetLatestEdition(s.soneID, edition)

	if s.checkpoints != nil {
		cp := sone.PublishCheckpoint{
			SoneID:      s.soneID,
			Fingerprint: pub.Fingerprint,
			Edition:     edition,
			PublishedAt: sone.Millis(snapshot.Time),
		}
		if err := s.checkpoints.SavePublishCheckpoint(ctx, cp); err != nil {
			s.logger.Error("saving publish checkpoint failed", "sone", s.soneID, "error", err)
		}
	}

	current, _ := s.store.Fingerprint(s.soneID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishing = false
	st := &s.state
	st.LastPublishedFingerprint = pub.Fingerprint
	if current == pub.Fingerprint {
		st.Fingerprint = current
		st.Modified = false
		st.FirstChange = time.Time{}
		st.Phase = PhaseWatching
	} else {
		st.Fingerprint = current
		st.Modified = true
		st.FirstChange = s.clock.Now()
		st.Phase = PhaseDebounced
	}
	return nil
}
