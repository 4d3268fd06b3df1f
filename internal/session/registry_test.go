package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) SessionCreated(ctx context.Context, info entity.SessionInfo) {
	m.Called(ctx, info)
}

func (m *mockTracker) SessionDestroyed(ctx context.Context, id string) {
	m.Called(ctx, id)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRegistry_CreateGetDestroy(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 3)

	s := r.Create(entity.TransportStreaming)
	require.NotEmpty(t, s.ID())
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	s.Push(entity.KeypointVector{1})
	assert.True(t, r.Destroy(s.ID()))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, r.Destroy(s.ID()))
}

func TestRegistry_GetOrCreateReturnsSameSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 3)

	var wg sync.WaitGroup
	sessions := make([]*Session, 20)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], _ = r.GetOrCreate(DefaultSessionID, entity.TransportDiscrete)
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, DefaultSessionID, sessions[0].ID())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)

	a := r.Create(entity.TransportStreaming)
	b := r.Create(entity.TransportStreaming)

	a.Push(entity.KeypointVector{1})
	a.Push(entity.KeypointVector{2})

	assert.True(t, a.Sequence().Ready())
	assert.False(t, b.Sequence().Ready())
	assert.Equal(t, 0, b.Len())

	a.Reset()
	b.Push(entity.KeypointVector{3})
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 1, b.Len())
}

func TestSession_PushReportsLengthAndCountsFrames(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)
	s := r.Create(entity.TransportDiscrete)

	assert.Equal(t, 1, s.Push(entity.KeypointVector{1}))
	assert.Equal(t, 2, s.Push(entity.KeypointVector{2}))
	assert.Equal(t, 2, s.Push(entity.KeypointVector{3}))

	info := s.Info()
	assert.Equal(t, uint64(3), info.FramesIngested)
	assert.Equal(t, 2, info.WindowLength)
	assert.Equal(t, 2, info.WindowCapacity)
	assert.Equal(t, "discrete", info.Transport)
}

func TestSession_SequenceIsFrozen(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)
	s := r.Create(entity.TransportStreaming)

	s.Push(entity.KeypointVector{1})
	s.Push(entity.KeypointVector{2})
	seq := s.Sequence()

	s.Push(entity.KeypointVector{3})
	s.Reset()

	assert.True(t, seq.Ready())
	assert.Equal(t, []entity.KeypointVector{{1}, {2}}, seq.Snapshot())
}

func TestRegistry_ReapOnlyIdleDiscreteSessions(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)

	discrete, err := r.GetOrCreate("caller-a", entity.TransportDiscrete)
	require.NoError(t, err)
	streaming := r.Create(entity.TransportStreaming)

	later := time.Now().Add(time.Hour)
	assert.Equal(t, 1, r.Reap(time.Minute, later))

	_, err = r.Get(discrete.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(streaming.ID())
	assert.NoError(t, err)

	assert.Equal(t, 0, r.Reap(0, later))
}

func TestRegistry_RunReaperStopsWithContext(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)
	r.GetOrCreate("caller-a", entity.TransportDiscrete)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunReaper(ctx, 10*time.Millisecond, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)

	a := r.Create(entity.TransportStreaming)
	b, err := r.GetOrCreate("caller-b", entity.TransportDiscrete)
	require.NoError(t, err)

	infos := r.List()
	require.Len(t, infos, 2)

	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, ids)
}

func TestRegistry_NotifiesTracker(t *testing.T) {
	t.Parallel()

	tracker := &mockTracker{}
	tracker.On("SessionCreated", mock.Anything, mock.MatchedBy(func(info entity.SessionInfo) bool {
		return info.ID == "caller-a" && info.Transport == "discrete"
	})).Once()
	tracker.On("SessionDestroyed", mock.Anything, "caller-a").Once()

	r := NewRegistry(quietLogger(), 2, WithTracker(tracker))
	r.GetOrCreate("caller-a", entity.TransportDiscrete)
	r.GetOrCreate("caller-a", entity.TransportDiscrete)
	r.Destroy("caller-a")
	r.Close()

	tracker.AssertExpectations(t)
}

func TestRegistry_GetOrCreateRefusesOtherTransport(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2)

	stream := r.Create(entity.TransportStreaming)
	stream.Push(entity.KeypointVector{1})

	got, err := r.GetOrCreate(stream.ID(), entity.TransportDiscrete)
	assert.ErrorIs(t, err, ErrTransportMismatch)
	assert.Nil(t, got)
	assert.Equal(t, 1, stream.Len())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DiscreteLimit(t *testing.T) {
	t.Parallel()
	r := NewRegistry(quietLogger(), 2, WithDiscreteLimit(2))

	_, err := r.GetOrCreate("caller-a", entity.TransportDiscrete)
	require.NoError(t, err)
	_, err = r.GetOrCreate("caller-b", entity.TransportDiscrete)
	require.NoError(t, err)

	_, err = r.GetOrCreate("caller-c", entity.TransportDiscrete)
	assert.ErrorIs(t, err, ErrSessionLimit)

	// Existing discrete sessions and streaming sessions are unaffected.
	_, err = r.GetOrCreate("caller-a", entity.TransportDiscrete)
	assert.NoError(t, err)
	r.Create(entity.TransportStreaming)

	require.True(t, r.Destroy("caller-b"))
	_, err = r.GetOrCreate("caller-c", entity.TransportDiscrete)
	assert.NoError(t, err)
}

type blockingTracker struct {
	release chan struct{}
	mu      sync.Mutex
	events  []string
}

func (b *blockingTracker) SessionCreated(_ context.Context, info entity.SessionInfo) {
	<-b.release
	b.mu.Lock()
	b.events = append(b.events, "created:"+info.ID)
	b.mu.Unlock()
}

func (b *blockingTracker) SessionDestroyed(_ context.Context, id string) {
	b.mu.Lock()
	b.events = append(b.events, "destroyed:"+id)
	b.mu.Unlock()
}

func TestRegistry_TrackerRunsOffRequestPathInOrder(t *testing.T) {
	t.Parallel()

	tracker := &blockingTracker{release: make(chan struct{})}
	r := NewRegistry(quietLogger(), 2, WithTracker(tracker))

	done := make(chan struct{})
	go func() {
		r.GetOrCreate("caller-a", entity.TransportDiscrete)
		r.Destroy("caller-a")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry blocked on a slow tracker")
	}

	close(tracker.release)
	r.Close()

	assert.Equal(t, []string{"created:caller-a", "destroyed:caller-a"}, tracker.events)
}
