// Package fetch keeps remote identities up to date.
//
// The Coordinator subscribes to the address of every remote identity, fetches
// new editions as they are announced, decodes them and merges the result into
// the store. A remote whose documents use an unsupported protocol version, or
// whose fetches keep failing, is suspended for a cooldown period.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/TheSeeker/Sone-sub000/internal/metrics"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// ErrRemoteUnreachable is returned while fetching from a remote is suspended.
var ErrRemoteUnreachable = errors.New("remote unreachable")

// Store is the part of the indexed store the coordinator reads and updates.
type Store interface {
	AddSone(identity sone.Identity) sone.Sone
	Sone(id string) (sone.Sone, bool)
	StoreSone(s sone.Sone) error
	SetStatus(id string, status sone.Status)
	SetLatestEdition(id string, edition int64)
	LatestEdition(id string) int64
	IsSoneKnown(id string) bool
	MarkSoneKnown(id string)
	MarkContentKnown(postIDs, replyIDs []string) (newPosts, newReplies []string)
}

// Decoder turns a fetched document into a new snapshot of original.
type Decoder interface {
	Decode(original sone.Sone, doc *sone.Document) (*sone.Sone, error)
}

// NewContent lists posts and replies of a remote identity seen for the first time.
type NewContent struct {
	SoneID   string
	PostIDs  []string
	ReplyIDs []string
}

// Config holds the fetch limits.
type Config struct {
	// MaxFailures consecutive substrate failures suspend a remote.
	MaxFailures uint32
	// Cooldown is how long a remote stays suspended before it is tried again.
	Cooldown time.Duration
	// MinInterval is the minimum time between two fetches of the same remote.
	MinInterval time.Duration
}

type remote struct {
	mu      sync.Mutex // serializes fetches of one remote
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	tripNow atomic.Bool
}

// Coordinator fetches and merges remote identities.
type Coordinator struct {
	store     Store
	decoder   Decoder
	substrate sone.Substrate
	directory sone.Directory
	logger    sone.Logger
	metrics   *metrics.Collector
	cfg       Config

	mu           sync.Mutex
	remotes      map[string]*remote
	onNewContent func(NewContent)
}

// NewCoordinator creates a Coordinator. m may be nil.
func NewCoordinator(store Store, decoder Decoder, substrate sone.Substrate, directory sone.Directory, logger sone.Logger, m *metrics.Collector, cfg Config) *Coordinator {
	if logger == nil {
		logger = sone.NewNopLogger()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Coordinator{
		store:     store,
		decoder:   decoder,
		substrate: substrate,
		directory: directory,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		remotes:   make(map[string]*remote),
	}
}

// OnNewContent registers fn to be called after a merge brought in posts or
// replies that were not known before. It is not called for the first merge of
// an identity, whose content is marked known silently.
func (c *Coordinator) OnNewContent(fn func(NewContent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNewContent = fn
}

// Run adds every remote identity of the directory to the store and watches it
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	identities, err := c.directory.Identities(ctx)
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}

	var wg sync.WaitGroup
	for _, identity := range identities {
		if identity.Local {
			continue
		}
		c.store.AddSone(identity)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Watch(ctx, identity.ID); err != nil {
				c.logger.Error("watching sone failed", "sone", identity.ID, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Watch subscribes to the address of a remote identity and fetches every
// announced edition newer than the latest known one. It returns when ctx is done.
func (c *Coordinator) Watch(ctx context.Context, soneID string) error {
	s, ok := c.store.Sone(soneID)
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, soneID)
	}
	editions, err := c.substrate.Subscribe(ctx, s.RequestAddress)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.RequestAddress, err)
	}

	for edition := range editions {
		if err := c.handle(ctx, soneID, edition); err != nil && ctx.Err() == nil {
			c.logger.Debug("fetch failed", "sone", soneID, "edition", edition, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) handle(ctx context.Context, soneID string, edition int64) error {
	c.logger.Debug("edition announced", "sone", soneID, "edition", edition)
	if edition <= c.store.LatestEdition(soneID) {
		return nil
	}
	if err := c.remote(soneID).limiter.Wait(ctx); err != nil {
		return err
	}
	if edition <= c.store.LatestEdition(soneID) {
		return nil
	}
	return c.FetchSone(ctx, soneID)
}

// FetchSone fetches the latest edition of a remote identity and merges it.
func (c *Coordinator) FetchSone(ctx context.Context, soneID string) error {
	r := c.remote(soneID)
	r.mu.Lock()
	defer r.mu.Unlock()

	original, ok := c.store.Sone(soneID)
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, soneID)
	}

	start := time.Now()
	result := metrics.FetchMerged
	_, err := r.breaker.Execute(func() (interface{}, error) {
		var err error
		result, err = c.fetch(ctx, r, original)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.ObserveFetch(metrics.FetchRejected, time.Since(start))
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, soneID, err)
	}
	c.metrics.ObserveFetch(result, time.Since(start))
	return err
}

// Unreachable reports whether fetching from a remote is currently suspended.
func (c *Coordinator) Unreachable(soneID string) bool {
	return c.remote(soneID).breaker.State() == gobreaker.StateOpen
}

func (c *Coordinator) fetch(ctx context.Context, r *remote, original sone.Sone) (string, error) {
	id := original.ID
	c.store.SetStatus(id, sone.StatusDownloading)
	defer c.store.SetStatus(id, sone.StatusIdle)

	doc, err := c.substrate.Fetch(ctx, original.RequestAddress)
	if err != nil {
		if errors.Is(err, sone.ErrDocumentNotFound) {
			c.logger.Debug("no document published yet", "sone", id)
			return metrics.FetchNotFound, err
		}
		c.logger.Warn("fetching sone failed", "sone", id, "error", err)
		return metrics.FetchSubstrate, err
	}
	if doc.Edition <= c.store.LatestEdition(id) {
		return metrics.FetchStale, nil
	}

	decoded, err := c.decoder.Decode(original, doc)
	if err != nil {
		c.logger.Warn("rejected document", "sone", id, "edition", doc.Edition, "error", err)
		if errors.Is(err, sone.ErrProtocolVersion) {
			r.tripNow.Store(true)
			return metrics.FetchProtocolError, err
		}
		return metrics.FetchMalformed, err
	}

	if !original.Time.IsZero() && !decoded.Time.After(original.Time) {
		c.logger.Debug("document is not newer than stored state", "sone", id, "edition", doc.Edition)
		c.store.SetLatestEdition(id, doc.Edition)
		return metrics.FetchStale, nil
	}

	if err := c.store.StoreSone(*decoded); err != nil {
		return metrics.FetchMalformed, fmt.Errorf("merging sone %s: %w", id, err)
	}
	c.logger.Debug("merged sone", "sone", id, "edition", doc.Edition)
	c.reportNewContent(*decoded)
	return metrics.FetchMerged, nil
}

func (c *Coordinator) reportNewContent(s sone.Sone) {
	postIDs := make([]string, 0, len(s.Posts))
	for _, p := range s.Posts {
		postIDs = append(postIDs, p.ID)
	}
	replyIDs := make([]string, 0, len(s.Replies))
	for _, r := range s.Replies {
		replyIDs = append(replyIDs, r.ID)
	}

	first := !c.store.IsSoneKnown(s.ID)
	newPosts, newReplies := c.store.MarkContentKnown(postIDs, replyIDs)
	if first {
		c.store.MarkSoneKnown(s.ID)
		return
	}
	if len(newPosts) == 0 && len(newReplies) == 0 {
		return
	}
	c.metrics.AddNewContent(len(newPosts), len(newReplies))

	c.mu.Lock()
	fn := c.onNewContent
	c.mu.Unlock()
	if fn != nil {
		fn(NewContent{SoneID: s.ID, PostIDs: newPosts, ReplyIDs: newReplies})
	}
}

func (c *Coordinator) remote(soneID string) *remote {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.remotes[soneID]; ok {
		return r
	}

	limit := rate.Inf
	if c.cfg.MinInterval > 0 {
		limit = rate.Every(c.cfg.MinInterval)
	}
	r := &remote{limiter: rate.NewLimiter(limit, 1)}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        soneID,
		MaxRequests: 1,
		Timeout:     c.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return r.tripNow.Load() || counts.ConsecutiveFailures >= c.cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, sone.ErrSubstrate) || errors.Is(err, sone.ErrProtocolVersion))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.tripNow.Store(false)
			c.logger.Info("remote state changed", "sone", name, "from", from.String(), "to", to.String())
			c.metrics.SetRemoteUnreachable(name, to == gobreaker.StateOpen)
		},
	})
	c.remotes[soneID] = r
	return r
}
