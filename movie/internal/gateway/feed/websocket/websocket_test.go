package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/abhishek622/moviereplica/movie/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReceivesFrames(t *testing.T) {
	ctx := context.Background()
	srv := testutil.NewTestCatalogServer(t)

	st, err := New(srv.FeedURL(), time.Second).Connect(ctx)
	require.NoError(t, err)
	defer st.Close()
	require.True(t, srv.WaitForSubscribers(1, time.Second))

	srv.BroadcastRaw([]byte(`{"action":"delete","movie_id":1}`))
	got, err := st.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"delete","movie_id":1}`, string(got))
}

func TestStreamFailsWhenServerDrops(t *testing.T) {
	ctx := context.Background()
	srv := testutil.NewTestCatalogServer(t)
	st, err := New(srv.FeedURL(), 0).Connect(ctx)
	require.NoError(t, err)
	defer st.Close()
	require.True(t, srv.WaitForSubscribers(1, time.Second))

	srv.DropSubscribers()
	_, err = st.Next(ctx)
	assert.Error(t, err)
}

func TestStreamHonorsContext(t *testing.T) {
	srv := testutil.NewTestCatalogServer(t)
	st, err := New(srv.FeedURL(), 0).Connect(context.Background())
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = st.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamReadTimeout(t *testing.T) {
	srv := testutil.NewTestCatalogServer(t)
	st, err := New(srv.FeedURL(), 50*time.Millisecond).Connect(context.Background())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Next(context.Background())
	assert.Error(t, err)
}

func TestConnectFailure(t *testing.T) {
	srv := testutil.NewTestCatalogServer(t)
	url := srv.FeedURL()
	srv.Close()

	_, err := New(url, 0).Connect(context.Background())
	assert.Error(t, err)
}

func TestExtendDeadlineKeepsCancellation(t *testing.T) {
	srv := testutil.NewTestCatalogServer(t)
	conn, err := New(srv.FeedURL(), time.Minute).Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	st := conn.(*stream)

	// Cancelled before the deadline is extended, as when the cancellation
	// lands between the context check and the read.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st.ctx = ctx
	st.extendDeadline()

	done := make(chan error, 1)
	go func() {
		_, _, err := st.conn.ReadMessage()
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("read outlived a cancelled context")
	}
}
