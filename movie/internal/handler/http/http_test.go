package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/controller/feed"
	"github.com/abhishek622/moviereplica/movie/internal/controller/mutation"
	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/abhishek622/moviereplica/movie/internal/gateway/mock"
	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/internal/repository/memory"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type staticFeed feed.State

func (s staticFeed) State() feed.State { return feed.State(s) }

type fixture struct {
	store  *replica.Store
	gw     *mock.MockCatalogGateway
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := replica.Open(context.Background(), memory.New())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gw := mock.NewMockCatalogGateway(gomock.NewController(t))
	h := New(store, mutation.New(gw, store, nil, nil), staticFeed(feed.Connected), nil)
	return &fixture{store: store, gw: gw, router: NewRouter(h, nil)}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func movie(id, name string, duration int) *model.Movie {
	return &model.Movie{
		ID:       model.ID(id),
		Name:     name,
		Duration: duration,
		Image:    "https://img.example.com/" + id + ".jpg",
	}
}

func decodeMovies(t *testing.T, b []byte) []string {
	t.Helper()
	var res []*model.Movie
	require.NoError(t, json.Unmarshal(b, &res))
	names := make([]string, len(res))
	for i, m := range res {
		names[i] = m.Name
	}
	return names
}

func TestListSorted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertMany(context.Background(), []*model.Movie{
		movie("1", "Brazil", 132),
		movie("2", "Alien", 117),
		movie("3", "Cube", 90),
	}))

	w := f.do(http.MethodGet, "/movies", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Alien", "Brazil", "Cube"}, decodeMovies(t, w.Body.Bytes()))

	w = f.do(http.MethodGet, "/movies?sort=duration", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Cube", "Alien", "Brazil"}, decodeMovies(t, w.Body.Bytes()))

	w = f.do(http.MethodGet, "/movies?sort=image", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMovie(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertOne(context.Background(), movie("7", "Seven", 127)))

	w := f.do(http.MethodGet, "/movies/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Movie
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.ID("7"), got.ID)

	w = f.do(http.MethodGet, "/movies/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateMovie(t *testing.T) {
	f := newFixture(t)
	fields := model.Fields{Name: "Alien", Duration: 117, Image: "https://img.example.com/1.jpg"}
	f.gw.EXPECT().Create(gomock.Any(), fields).Return(movie("1", "Alien", 117), nil)

	w := f.do(http.MethodPost, "/movies", `{"name":"Alien","duration":117,"image":"https://img.example.com/1.jpg"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, f.store.Len())

	w = f.do(http.MethodPost, "/movies", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoteErrorKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.gw.EXPECT().Delete(gomock.Any(), model.ID("9")).
		Return(&gateway.RemoteError{StatusCode: http.StatusNotFound, Message: "Not found."})

	w := f.do(http.MethodDelete, "/movies/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found."}`, w.Body.String())
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertOne(ctx, movie("1", "Alien", 117)))

	f.gw.EXPECT().Update(gomock.Any(), model.ID("1"), gomock.Any()).
		DoAndReturn(func(_ context.Context, id model.ID, m *model.Movie) (*model.Movie, error) {
			return m, nil
		})
	w := f.do(http.MethodPut, "/movies/1", `{"name":"Alien (1979)","duration":117,"image":"https://img.example.com/1.jpg"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got, err := f.store.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Alien (1979)", got.Name)

	f.gw.EXPECT().Delete(gomock.Any(), model.ID("1")).Return(nil)
	w = f.do(http.MethodDelete, "/movies/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.store.Len())
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	avg := 5.0
	rated := movie("1", "Alien", 117)
	rated.AverageRating = &avg
	rated.Ratings = []model.Rating{{ID: 1, Movie: 1, Rating: 5}}
	gomock.InOrder(
		f.gw.EXPECT().AddRating(gomock.Any(), model.ID("1"), model.RatingValue(5)).Return(rated, nil),
		f.gw.EXPECT().Update(gomock.Any(), model.ID("1"), rated).Return(rated, nil),
	)

	w := f.do(http.MethodPost, "/movies/1/rating", `{"rating":5}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/movies/1/rating", `{"rating":6}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"rating":"range"`)

	w = f.do(http.MethodPost, "/movies/1/rating", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","feed":"connected","movies":0}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/movies", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamSnapshots(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/movies/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
				events <- line
			}
		}
		close(events)
	}()

	assert.Equal(t, "[]", strings.TrimSpace(<-events))
	require.NoError(t, f.store.UpsertOne(context.Background(), movie("1", "Alien", 117)))
	assert.Equal(t, []string{"Alien"}, decodeMovies(t, []byte(<-events)))
}
