package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/controller/mutation"
	catalog "github.com/abhishek622/moviereplica/movie/internal/gateway/catalog/http"
	"github.com/abhishek622/moviereplica/movie/internal/gateway/feed/websocket"
	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/internal/repository/memory"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/abhishek622/moviereplica/movie/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const waitFor = 2 * time.Second

func alienEvent(action model.ChangeAction, name string) map[string]any {
	return map[string]any{
		"action": action,
		"movie": map[string]any{
			"id":          1,
			"name":        name,
			"description": "In space",
			"duration":    117,
			"image":       "https://img.example.com/alien.jpg",
		},
	}
}

type fixture struct {
	srv   *testutil.CatalogServer
	repo  *memory.Repository
	store *replica.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	store, err := replica.Open(context.Background(), repo)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fixture{srv: testutil.NewTestCatalogServer(t), repo: repo, store: store}
}

func (f *fixture) listener(logger *zap.Logger, scope tally.Scope, opts ...Option) *Listener {
	return New(websocket.New(f.srv.FeedURL(), 0), f.store, logger, scope, opts...)
}

// start runs l until the test ends and waits for it to connect.
func start(t *testing.T, f *fixture, l *Listener) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errc <- l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.True(t, f.srv.WaitForSubscribers(1, waitFor), "listener never subscribed")
	require.Eventually(t, func() bool { return l.State() == Connected }, waitFor, 5*time.Millisecond)
	return errc
}

func (f *fixture) name(id model.ID) string {
	m, err := f.store.FindByID(context.Background(), id)
	if err != nil {
		return ""
	}
	return m.Name
}

func TestListenerAppliesEventsInOrder(t *testing.T) {
	f := newFixture(t)
	l := f.listener(nil, nil)
	start(t, f, l)

	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))
	f.srv.Broadcast(alienEvent(model.ChangeActionUpdate, "Alien (1979)"))
	require.Eventually(t, func() bool { return f.name("1") == "Alien (1979)" }, waitFor, 5*time.Millisecond)

	f.srv.Broadcast(map[string]any{"action": "delete", "movie_id": 1})
	require.Eventually(t, func() bool { return f.store.Len() == 0 }, waitFor, 5*time.Millisecond)
	_, err := f.store.FindByID(context.Background(), "1")
	assert.ErrorIs(t, err, replica.ErrNotFound)
}

func TestListenerCreateTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	scope := tally.NewTestScope("", nil)
	l := f.listener(nil, scope)
	start(t, f, l)

	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))
	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))
	require.Eventually(t, func() bool {
		c, ok := scope.Snapshot().Counters()["applied+action=create"]
		return ok && c.Value() == 2
	}, waitFor, 5*time.Millisecond)

	doc, err := f.repo.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), doc.Revision)
	assert.Equal(t, 1, f.store.Len())
}

func TestListenerDropsBadEvents(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	l := f.listener(zap.New(core), nil)
	start(t, f, l)

	f.srv.BroadcastRaw([]byte("not json"))
	f.srv.Broadcast(map[string]any{"action": "explode"})
	f.srv.Broadcast(map[string]any{"action": "create"})
	f.srv.Broadcast(map[string]any{"action": "delete"})
	invalid := alienEvent(model.ChangeActionCreate, "")
	invalid["movie"].(map[string]any)["id"] = 2
	f.srv.Broadcast(invalid)
	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))

	require.Eventually(t, func() bool { return f.name("1") == "Alien" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 4, logs.FilterMessage("Dropping malformed change event").Len())
	assert.Equal(t, 1, logs.FilterMessage("Dropping invalid movie from feed").Len())
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, Connected, l.State())
}

func TestListenerIgnoresDeleteOfUnknownMovie(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.DebugLevel)
	l := f.listener(zap.New(core), nil)
	start(t, f, l)

	f.srv.Broadcast(map[string]any{"action": "delete", "movie_id": "404"})
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Delete for unknown movie ignored").Len() == 1
	}, waitFor, 5*time.Millisecond)
}

func TestListenerReportsDisconnect(t *testing.T) {
	f := newFixture(t)
	l := f.listener(nil, nil)
	assert.Equal(t, Disconnected, l.State())
	errc := start(t, f, l)

	f.srv.DropSubscribers()
	select {
	case err := <-errc:
		var cerr *ConnectionError
		assert.ErrorAs(t, err, &cerr)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after disconnect")
	}
	assert.Equal(t, Disconnected, l.State())
}

func TestListenerConnectFailure(t *testing.T) {
	f := newFixture(t)
	url := f.srv.FeedURL()
	f.srv.Close()

	err := New(websocket.New(url, 0), f.store, nil, nil).Run(context.Background())
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, errors.Unwrap(err) != nil)
}

func TestListenerStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	l := f.listener(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	require.True(t, f.srv.WaitForSubscribers(1, waitFor))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, Disconnected, l.State())
}

func TestListenerBuffersUntilBaseline(t *testing.T) {
	f := newFixture(t)
	scope := tally.NewTestScope("", nil)
	gate := make(chan struct{})
	l := f.listener(nil, scope, WithBaseline(gate))
	start(t, f, l)

	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))
	f.srv.Broadcast(alienEvent(model.ChangeActionUpdate, "Alien (1979)"))
	require.Eventually(t, func() bool {
		c, ok := scope.Snapshot().Counters()["received+"]
		return ok && c.Value() == 2
	}, waitFor, 5*time.Millisecond)
	assert.Zero(t, f.store.Len())

	close(gate)
	require.Eventually(t, func() bool { return f.name("1") == "Alien (1979)" }, waitFor, 5*time.Millisecond)
}

func TestListenerReturnsReplicaFailure(t *testing.T) {
	f := newFixture(t)
	l := f.listener(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	require.True(t, f.srv.WaitForSubscribers(1, waitFor))

	require.NoError(t, f.store.Close())
	f.srv.Broadcast(alienEvent(model.ChangeActionCreate, "Alien"))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, replica.ErrClosed)
	case <-time.After(waitFor):
		t.Fatal("Run did not fail")
	}
}

func TestMutationEchoConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scope := tally.NewTestScope("", nil)
	l := f.listener(nil, scope)
	start(t, f, l)
	counter := func(name string) int64 {
		if c, ok := scope.Snapshot().Counters()[name]; ok {
			return c.Value()
		}
		return 0
	}

	c := mutation.New(catalog.New(f.srv.URL(), nil, nil), f.store, nil, nil)
	created, err := c.Create(ctx, model.Fields{Name: "Brazil", Duration: 132, Image: "https://img.example.com/brazil.jpg"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return counter("applied+action=create") == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Delete(ctx, created.ID))
	require.Eventually(t, func() bool { return counter("noops+") == 1 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, f.srv.Len())
	assert.Zero(t, f.store.Len())

	doc, err := f.repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, doc.Deleted)
	assert.Equal(t, uint64(2), doc.Revision)
}
