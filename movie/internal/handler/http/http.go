package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/abhishek622/moviereplica/movie/internal/controller/feed"
	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type movieStore interface {
	FindByID(ctx context.Context, id model.ID) (*model.Movie, error)
	ObserveSorted(field model.SortField) (*replica.Projection, error)
	Len() int
}

type mutationController interface {
	Create(ctx context.Context, fields model.Fields) (*model.Movie, error)
	Update(ctx context.Context, id model.ID, movie *model.Movie) (*model.Movie, error)
	Delete(ctx context.Context, id model.ID) error
	Rate(ctx context.Context, id model.ID, value model.RatingValue) (*model.Movie, error)
}

type feedListener interface {
	State() feed.State
}

// Handler defines the local movie HTTP API handler.
type Handler struct {
	store  movieStore
	ctrl   mutationController
	feed   feedListener
	logger *zap.Logger
}

// New creates a new local API handler. listener may be nil when no change
// feed is configured.
func New(store movieStore, ctrl mutationController, listener feedListener, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, ctrl: ctrl, feed: listener, logger: logger}
}

// NewRouter returns a gin engine serving h. An empty origins list allows
// every origin.
func NewRouter(h *Handler, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	h.Register(r)
	return r
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	movies := r.Group("/movies")
	movies.GET("", h.list)
	movies.GET("/stream", h.stream)
	movies.GET("/:id", h.get)
	movies.POST("", h.create)
	movies.PUT("/:id", h.update)
	movies.DELETE("/:id", h.delete)
	movies.POST("/:id/rating", h.rate)
}

func (h *Handler) health(c *gin.Context) {
	state := feed.Disconnected
	if h.feed != nil {
		state = h.feed.State()
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"feed":   state.String(),
		"movies": h.store.Len(),
	})
}

func (h *Handler) observe(c *gin.Context) (*replica.Projection, bool) {
	field := model.SortField(c.DefaultQuery("sort", string(model.SortByName)))
	if !field.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported sort field " + string(field)})
		return nil, false
	}
	p, err := h.store.ObserveSorted(field)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return p, true
}

func (h *Handler) list(c *gin.Context) {
	p, ok := h.observe(c)
	if !ok {
		return
	}
	defer p.Close()

	select {
	case snap, ok := <-p.C():
		if !ok {
			h.fail(c, p.Err())
			return
		}
		c.JSON(http.StatusOK, snap)
	case <-c.Request.Context().Done():
	}
}

func (h *Handler) stream(c *gin.Context) {
	p, ok := h.observe(c)
	if !ok {
		return
	}
	defer p.Close()

	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-p.C():
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) create(c *gin.Context) {
	var req model.Fields
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := h.ctrl.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req model.Movie
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.ID = id
	m, err := h.ctrl.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.ctrl.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) rate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Rating *model.RatingValue `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be an integer"})
		return
	}
	m, err := h.ctrl.Rate(c.Request.Context(), id, *req.Rating)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func pathID(c *gin.Context) (model.ID, bool) {
	id, err := model.ParseID(c.Param("id"))
	if err != nil || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid movie id"})
		return "", false
	}
	return id, true
}

// fail maps err onto a JSON error response. Remote errors keep the status
// the catalog returned.
func (h *Handler) fail(c *gin.Context, err error) {
	var remote *gateway.RemoteError
	var verr *replica.ValidationError
	switch {
	case errors.As(err, &remote):
		c.JSON(remote.StatusCode, gin.H{"error": remote.Message})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": verr.Fields})
	case errors.Is(err, replica.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "movie not found"})
	case errors.Is(err, replica.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
