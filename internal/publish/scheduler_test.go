package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheSeeker/Sone-sub000/internal/document"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
	"github.com/TheSeeker/Sone-sub000/internal/store"
	"github.com/TheSeeker/Sone-sub000/internal/substrate"
	"github.com/TheSeeker/Sone-sub000/internal/testutil"
)

const debounce = time.Minute

var alice = testutil.LocalIdentity("alice")

type memoryCheckpoints struct {
	mu  sync.Mutex
	cps map[string]sone.PublishCheckpoint
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{cps: make(map[string]sone.PublishCheckpoint)}
}

func (m *memoryCheckpoints) LoadPublishCheckpoint(_ context.Context, id string) (*sone.PublishCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[id]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *memoryCheckpoints) SavePublishCheckpoint(_ context.Context, cp sone.PublishCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.SoneID] = cp
	return nil
}

type fixture struct {
	store       *store.MemoryStore
	substrate   *substrate.MemorySubstrate
	clock       *testutil.StubClock
	codec       *document.Codec
	checkpoints *memoryCheckpoints
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	st.AddSone(alice)
	return &fixture{
		store:       st,
		substrate:   substrate.NewMemorySubstrate(),
		clock:       testutil.FixedClock(),
		codec:       document.NewCodec(testutil.NewBuilders(), sone.Client{Name: "Sone", Version: "test"}, nil),
		checkpoints: newMemoryCheckpoints(),
	}
}

func (f *fixture) scheduler(sub sone.Substrate) *Scheduler {
	if sub == nil {
		sub = f.substrate
	}
	return NewScheduler(alice.ID, f.store, f.codec, sub, f.checkpoints, f.clock, nil, nil, Config{
		PollInterval:   10 * time.Millisecond,
		Debounce:       func() time.Duration { return debounce },
		PublishTimeout: time.Minute,
	})
}

func (f *fixture) addPost(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, f.store.StorePost(sone.Post{ID: id, SoneID: alice.ID, Time: f.clock.Now(), Text: text}))
}

// publishInitial brings the scheduler to a clean state with one published edition.
func (f *fixture) publishInitial(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)
	require.NoError(t, s.Tick(ctx))
	require.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))
	require.False(t, s.State().Modified)
}

func TestTick_DebouncesSingleChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)
	f.publishInitial(t, s)

	f.addPost(t, "P1", "Hello")
	changedAt := f.clock.Now()
	require.NoError(t, s.Tick(ctx))

	st := s.State()
	assert.Equal(t, PhaseDebounced, st.Phase)
	assert.True(t, st.Modified)
	assert.Equal(t, changedAt, st.FirstChange)

	f.clock.Advance(debounce - time.Second)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress), "no publish before the debounce interval")

	f.clock.Advance(time.Second)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(2), f.substrate.Editions(alice.InsertAddress))

	for i := 0; i < 5; i++ {
		f.clock.Advance(debounce)
		require.NoError(t, s.Tick(ctx))
	}
	assert.Equal(t, int64(2), f.substrate.Editions(alice.InsertAddress), "exactly one publish per change")

	st = s.State()
	assert.Equal(t, PhaseWatching, st.Phase)
	assert.False(t, st.Modified)
	assert.True(t, st.FirstChange.IsZero())
	assert.Equal(t, st.Fingerprint, st.LastPublishedFingerprint)

	snap, _ := f.store.Sone(alice.ID)
	assert.Equal(t, int64(2), snap.LatestEdition)
	assert.Equal(t, sone.StatusIdle, snap.Status)
	assert.Equal(t, changedAt.Add(debounce), snap.Time)
}

func TestTick_PublishedDocumentCarriesContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)

	f.addPost(t, "P1", "Hello")
	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)
	require.NoError(t, s.Tick(ctx))

	doc, err := f.substrate.Fetch(ctx, alice.InsertAddress)
	require.NoError(t, err)

	original, _ := f.store.Sone(alice.ID)
	decoded, err := f.codec.Decode(original, doc)
	require.NoError(t, err)
	require.Len(t, decoded.Posts, 1)
	assert.Equal(t, "Hello", decoded.Posts[0].Text)
	assert.Equal(t, sone.Fingerprint(original), sone.Fingerprint(*decoded))

	page, ok := f.substrate.Entry(alice.InsertAddress, document.PageName)
	require.True(t, ok)
	assert.Contains(t, string(page.Data), "Hello")
}

func TestTick_RevertCancelsPendingPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)
	f.publishInitial(t, s)

	f.store.LikePost(alice.ID, "X")
	require.NoError(t, s.Tick(ctx))
	assert.True(t, s.State().Modified)

	f.clock.Advance(debounce / 2)
	f.store.UnlikePost(alice.ID, "X")
	require.NoError(t, s.Tick(ctx))

	st := s.State()
	assert.False(t, st.Modified)
	assert.Equal(t, PhaseWatching, st.Phase)
	assert.True(t, st.FirstChange.IsZero())

	f.clock.Advance(2 * debounce)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_ChangeAfterRevertRestartsDebounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)
	f.publishInitial(t, s)

	f.store.LikePost(alice.ID, "X")
	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce / 2)
	f.store.UnlikePost(alice.ID, "X")
	f.store.LikePost(alice.ID, "Y")
	require.NoError(t, s.Tick(ctx))

	assert.Equal(t, f.clock.Now(), s.State().FirstChange)

	f.clock.Advance(debounce / 2)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))

	f.clock.Advance(debounce / 2)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(2), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_LockedIdentityIsNotPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)
	f.publishInitial(t, s)

	f.store.SetLocked(alice.ID, true)
	f.addPost(t, "P1", "Hello")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(ctx))
		f.clock.Advance(debounce)
	}

	st := s.State()
	assert.Equal(t, PhaseLocked, st.Phase)
	assert.True(t, st.Modified)
	assert.True(t, st.FirstChange.IsZero())
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))

	f.store.SetLocked(alice.ID, false)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, PhaseDebounced, s.State().Phase, "unlocking restarts the debounce window")
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))

	f.clock.Advance(debounce)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(2), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_PublishFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)

	f.substrate.SetPublishError(errors.New("network down"))
	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)

	err := s.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, sone.ErrSubstrate)

	st := s.State()
	assert.True(t, st.Modified)
	assert.Empty(t, st.LastPublishedFingerprint)
	assert.Equal(t, f.clock.Now(), st.FirstChange)

	snap, _ := f.store.Sone(alice.ID)
	assert.Equal(t, sone.StatusIdle, snap.Status)
	assert.Equal(t, int64(0), snap.LatestEdition)

	f.substrate.SetPublishError(nil)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(0), f.substrate.Editions(alice.InsertAddress), "retry waits for another debounce interval")

	f.clock.Advance(debounce)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_ChangeDuringPublishIsPickedUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gated := testutil.NewGatedSubstrate(f.substrate)
	s := f.scheduler(gated)

	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)

	done := make(chan error, 1)
	go func() { done <- s.Tick(ctx) }()
	<-gated.Started()

	snap, _ := f.store.Sone(alice.ID)
	assert.Equal(t, sone.StatusInserting, snap.Status)
	assert.Equal(t, PhasePublishing, s.State().Phase)

	f.addPost(t, "P1", "written while publishing")
	assert.ErrorIs(t, s.Tick(ctx), ErrPublishInFlight)

	gated.Release()
	require.NoError(t, <-done)

	st := s.State()
	assert.True(t, st.Modified, "the change made during the publish is pending")
	assert.NotEqual(t, st.Fingerprint, st.LastPublishedFingerprint)
	assert.Equal(t, 1, gated.Calls())
	assert.Equal(t, 1, gated.MaxInFlight())

	f.clock.Advance(debounce)
	go func() { done <- s.Tick(ctx) }()
	<-gated.Started()
	gated.Release()
	require.NoError(t, <-done)

	assert.Equal(t, 2, gated.Calls())
	assert.Equal(t, 1, gated.MaxInFlight())
	assert.False(t, s.State().Modified)
}

func TestTick_ShutdownDuringPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	gated := testutil.NewGatedSubstrate(f.substrate)
	s := f.scheduler(gated)

	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)

	done := make(chan error, 1)
	go func() { done <- s.Tick(ctx) }()
	<-gated.Started()
	cancel()
	gated.Release()
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress), "the in-flight publish completes")

	snap, _ := f.store.Sone(alice.ID)
	assert.Equal(t, int64(0), snap.LatestEdition, "edition is not recorded after shutdown")
	assert.Equal(t, sone.StatusIdle, snap.Status)

	cp, err := f.checkpoints.LoadPublishCheckpoint(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestTick_ShutdownBeforePublish(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(debounce)
	cancel()

	assert.ErrorIs(t, s.Tick(ctx), context.Canceled)
	assert.Equal(t, int64(0), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_DebounceIsReadEveryTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interval := time.Hour
	var mu sync.Mutex
	s := NewScheduler(alice.ID, f.store, f.codec, f.substrate, nil, f.clock, nil, nil, Config{
		Debounce: func() time.Duration {
			mu.Lock()
			defer mu.Unlock()
			return interval
		},
	})

	require.NoError(t, s.Tick(ctx))
	f.clock.Advance(time.Minute)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(0), f.substrate.Editions(alice.InsertAddress))

	mu.Lock()
	interval = time.Second
	mu.Unlock()
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int64(1), f.substrate.Editions(alice.InsertAddress))
}

func TestTick_UnknownSone(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler("missing", f.store, f.codec, f.substrate, nil, f.clock, nil, nil, Config{})

	assert.ErrorIs(t, s.Tick(context.Background()), sone.ErrPrecondition)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("publish saves a checkpoint", func(t *testing.T) {
		f := newFixture(t)
		s := f.scheduler(nil)
		f.publishInitial(t, s)

		cp, err := f.checkpoints.LoadPublishCheckpoint(ctx, alice.ID)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, int64(1), cp.Edition)
		assert.Equal(t, s.State().LastPublishedFingerprint, cp.Fingerprint)
		assert.Equal(t, sone.Millis(f.clock.Now()), cp.PublishedAt)
	})

	t.Run("restored checkpoint suppresses republishing unchanged content", func(t *testing.T) {
		f := newFixture(t)
		f.addPost(t, "P1", "Hello")
		fp, _ := f.store.Fingerprint(alice.ID)
		require.NoError(t, f.checkpoints.SavePublishCheckpoint(ctx, sone.PublishCheckpoint{
			SoneID: alice.ID, Fingerprint: fp, Edition: 7,
		}))

		s := f.scheduler(nil)
		require.NoError(t, s.LoadCheckpoint(ctx))
		require.NoError(t, s.Tick(ctx))
		f.clock.Advance(debounce)
		require.NoError(t, s.Tick(ctx))

		assert.False(t, s.State().Modified)
		assert.Equal(t, int64(0), f.substrate.Editions(alice.InsertAddress))
		assert.Equal(t, int64(7), f.store.LatestEdition(alice.ID))
	})
}

func TestRun_PublishesAndStops(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(alice.ID, f.store, f.codec, f.substrate, f.checkpoints, f.clock, nil, nil, Config{
		PollInterval: 5 * time.Millisecond,
		Debounce:     func() time.Duration { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.substrate.Editions(alice.InsertAddress) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "watching", PhaseWatching.String())
	assert.Equal(t, "locked", PhaseLocked.String())
	assert.Equal(t, "debounced", PhaseDebounced.String())
	assert.Equal(t, "publishing", PhasePublishing.String())
}
