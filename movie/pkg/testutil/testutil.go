// Package testutil provides an in-process fake of the remote movie catalog:
// its REST API and its websocket change feed.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/gorilla/websocket"
)

// CatalogServer is a fake remote catalog. Successful mutations are echoed
// to every feed subscriber, the way the real service signals changes.
type CatalogServer struct {
	t      testing.TB
	server *httptest.Server

	mu           sync.Mutex
	movies       map[int64]*wireMovie
	nextID       int64
	nextRatingID int64
	conns        map[*websocket.Conn]struct{}
	echo         bool
	failures     []failure
	requests     []string
}

type wireMovie struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Duration      int            `json:"duration"`
	Image         string         `json:"image"`
	AverageRating float64        `json:"average_rating"`
	Ratings       []model.Rating `json:"ratings"`
}

type failure struct {
	status  int
	message string
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// NewTestCatalogServer starts a fake catalog that is shut down with the test.
func NewTestCatalogServer(t testing.TB) *CatalogServer {
	c := &CatalogServer{
		t:      t,
		movies: map[int64]*wireMovie{},
		conns:  map[*websocket.Conn]struct{}{},
		echo:   true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/movies/{$}", c.list)
	mux.HandleFunc("POST /api/movies/{$}", c.create)
	mux.HandleFunc("PUT /api/movies/{id}/{$}", c.update)
	mux.HandleFunc("DELETE /api/movies/{id}/{$}", c.delete)
	mux.HandleFunc("POST /api/movies/{id}/add_rating/{$}", c.addRating)
	mux.HandleFunc("/ws/movies/", c.feed)
	c.server = httptest.NewServer(c.record(mux))
	t.Cleanup(c.Close)
	return c
}

// URL is the REST base URL.
func (c *CatalogServer) URL() string {
	return c.server.URL + "/api"
}

// FeedURL is the websocket change feed URL.
func (c *CatalogServer) FeedURL() string {
	return "ws" + strings.TrimPrefix(c.server.URL, "http") + "/ws/movies/"
}

// SetEcho turns broadcasting of successful mutations on or off.
func (c *CatalogServer) SetEcho(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echo = on
}

// Seed adds movies without notifying subscribers and returns their ids.
func (c *CatalogServer) Seed(fields ...model.Fields) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		m := c.insertLocked(f)
		ids = append(ids, m.ID)
	}
	return ids
}

// FailNext makes the next REST request fail with the given status and
// {"error": message} body.
func (c *CatalogServer) FailNext(status int, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failure{status: status, message: message})
}

// Broadcast sends v, JSON encoded, to every feed subscriber.
func (c *CatalogServer) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("encode broadcast: %v", err)
	}
	c.BroadcastRaw(b)
}

// BroadcastRaw sends a text frame to every feed subscriber.
func (c *CatalogServer) BroadcastRaw(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastLocked(b)
}

// WaitForSubscribers blocks until at least n feed subscribers are connected.
func (c *CatalogServer) WaitForSubscribers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.conns)
		c.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// DropSubscribers closes every feed connection.
func (c *CatalogServer) DropSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.conns {
		conn.Close()
		delete(c.conns, conn)
	}
}

// Requests returns "METHOD path" for every REST request served so far.
func (c *CatalogServer) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

// Len returns the number of remote movies.
func (c *CatalogServer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.movies)
}

// Close drops every subscriber and stops the server.
func (c *CatalogServer) Close() {
	c.DropSubscribers()
	c.server.Close()
}

func (c *CatalogServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			c.mu.Lock()
			c.requests = append(c.requests, r.Method+" "+r.URL.Path)
			var f *failure
			if len(c.failures) > 0 {
				f = &c.failures[0]
				c.failures = c.failures[1:]
			}
			c.mu.Unlock()
			if f != nil {
				writeJSON(w, f.status, map[string]string{"error": f.message})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CatalogServer) list(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]*wireMovie, 0, len(c.movies))
	for id := int64(1); id <= c.nextID; id++ {
		if m, ok := c.movies[id]; ok {
			res = append(res, m)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *CatalogServer) create(w http.ResponseWriter, r *http.Request) {
	var f model.Fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg := checkFields(f); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.insertLocked(f)
	c.echoLocked(map[string]any{"action": "create", "movie": m})
	writeJSON(w, http.StatusCreated, m)
}

func (c *CatalogServer) update(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	var f model.Fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg := checkFields(f); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.movies[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	m.Name, m.Description, m.Duration, m.Image = f.Name, f.Description, f.Duration, f.Image
	c.echoLocked(map[string]any{"action": "update", "movie": m})
	writeJSON(w, http.StatusOK, m)
}

func (c *CatalogServer) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.movies[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	delete(c.movies, id)
	c.echoLocked(map[string]any{"action": "delete", "movie_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (c *CatalogServer) addRating(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Rating *int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Rating must be an integer"})
		return
	}
	if req.Rating == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Rating is required"})
		return
	}
	if *req.Rating < 1 || *req.Rating > 5 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Rating must be between 1 and 5"})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.movies[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	c.nextRatingID++
	m.Ratings = append(m.Ratings, model.Rating{ID: c.nextRatingID, Movie: id, Rating: model.RatingValue(*req.Rating)})
	sum := 0
	for _, rt := range m.Ratings {
		sum += int(rt.Rating)
	}
	m.AverageRating = float64(sum) / float64(len(m.Ratings))
	c.echoLocked(map[string]any{"action": "update", "movie": m})
	writeJSON(w, http.StatusOK, m)
}

func (c *CatalogServer) feed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.conns[conn] = struct{}{}
	c.mu.Unlock()

	// Drain until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	conn.Close()
}

func (c *CatalogServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return 0, false
	}
	return id, true
}

func (c *CatalogServer) insertLocked(f model.Fields) *wireMovie {
	c.nextID++
	m := &wireMovie{
		ID:          c.nextID,
		Name:        f.Name,
		Description: f.Description,
		Duration:    f.Duration,
		Image:       f.Image,
		Ratings:     []model.Rating{},
	}
	c.movies[m.ID] = m
	return m
}

func (c *CatalogServer) echoLocked(v any) {
	if !c.echo {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.t.Errorf("encode echo: %v", err)
		return
	}
	c.broadcastLocked(b)
}

func (c *CatalogServer) broadcastLocked(b []byte) {
	for conn := range c.conns {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			conn.Close()
			delete(c.conns, conn)
		}
	}
}

func checkFields(f model.Fields) string {
	switch {
	case f.Name == "":
		return "name: This field may not be blank."
	case f.Image == "":
		return "image: This field may not be blank."
	case f.Duration < 0:
		return "duration: Ensure this value is greater than or equal to 0."
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
