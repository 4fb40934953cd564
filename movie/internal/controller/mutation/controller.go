package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// ErrRatingRange is wrapped by the ValidationError returned for ratings
// outside 1 to 5.
var ErrRatingRange = errors.New("rating must be between 1 and 5")

type catalogGateway interface {
	Create(ctx context.Context, fields model.Fields) (*model.Movie, error)
	Update(ctx context.Context, id model.ID, movie *model.Movie) (*model.Movie, error)
	Delete(ctx context.Context, id model.ID) error
	AddRating(ctx context.Context, id model.ID, value model.RatingValue) (*model.Movie, error)
}

type movieStore interface {
	UpsertOne(ctx context.Context, m *model.Movie) error
	Remove(ctx context.Context, id model.ID) error
}

// Controller executes user mutations against the remote catalog first and
// mirrors accepted results into the replica. A remote failure leaves the
// replica untouched.
type Controller struct {
	gateway catalogGateway
	store   movieStore
	logger  *zap.Logger
	scope   tally.Scope
}

// New creates a mutation controller.
func New(gateway catalogGateway, store movieStore, logger *zap.Logger, scope tally.Scope) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Controller{gateway: gateway, store: store, logger: logger, scope: scope}
}

// Create creates a movie remotely and mirrors the created record.
func (c *Controller) Create(ctx context.Context, fields model.Fields) (*model.Movie, error) {
	m, err := c.gateway.Create(ctx, fields)
	if err != nil {
		return nil, c.remoteFailed("create", err)
	}
	if err := c.mirror(ctx, "create", m); err != nil {
		return m, err
	}
	return m, nil
}

// Update replaces a movie remotely and mirrors the stored record.
func (c *Controller) Update(ctx context.Context, id model.ID, movie *model.Movie) (*model.Movie, error) {
	m, err := c.gateway.Update(ctx, id, movie)
	if err != nil {
		return nil, c.remoteFailed("update", err)
	}
	if m.ID == "" {
		m.ID = id
	}
	if err := c.mirror(ctx, "update", m); err != nil {
		return m, err
	}
	return m, nil
}

// Delete deletes a movie remotely and tombstones it locally. A movie that
// is already gone locally, for instance because the feed echo won the race,
// is not an error.
func (c *Controller) Delete(ctx context.Context, id model.ID) error {
	if err := c.gateway.Delete(ctx, id); err != nil {
		return c.remoteFailed("delete", err)
	}
	c.scope.Tagged(map[string]string{"op": "delete"}).Counter("mirrored").Inc(1)
	if err := c.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("mirror delete of %s: %w", id, err)
	}
	return nil
}

// Rate adds a rating remotely, then reconciles the returned movie, with its
// recomputed average, through Update.
func (c *Controller) Rate(ctx context.Context, id model.ID, value model.RatingValue) (*model.Movie, error) {
	if !value.Valid() {
		return nil, &replica.ValidationError{
			ID:     id,
			Fields: map[string]string{"rating": "range"},
			Err:    ErrRatingRange,
		}
	}
	rated, err := c.gateway.AddRating(ctx, id, value)
	if err != nil {
		return nil, c.remoteFailed("rate", err)
	}
	if rated.ID == "" {
		rated.ID = id
	}
	return c.Update(ctx, rated.ID, rated)
}

func (c *Controller) remoteFailed(op string, err error) error {
	c.scope.Tagged(map[string]string{"op": op}).Counter("remote_errors").Inc(1)
	c.logger.Info("Remote mutation failed", zap.String("op", op), zap.Error(err))
	return err
}

// mirror writes an accepted remote result into the replica. Schema
// rejections are logged and dropped; the next sync heals the replica.
func (c *Controller) mirror(ctx context.Context, op string, m *model.Movie) error {
	err := c.store.UpsertOne(ctx, m)
	var verr *replica.ValidationError
	switch {
	case err == nil:
		c.scope.Tagged(map[string]string{"op": op}).Counter("mirrored").Inc(1)
		return nil
	case errors.As(err, &verr):
		c.scope.Tagged(map[string]string{"op": op}).Counter("rejected").Inc(1)
		c.logger.Warn("Remote result rejected by replica schema", zap.String("op", op), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("mirror %s of %s: %w", op, m.ID, err)
	}
}
