package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrAlreadyLoaded is returned by every LoadAll call after the first.
var ErrAlreadyLoaded = errors.New("catalog already loaded")

type catalogGateway interface {
	List(ctx context.Context) ([]*model.Movie, error)
}

type movieStore interface {
	UpsertMany(ctx context.Context, movies []*model.Movie) error
}

// Loader performs the initial bulk population of the replica.
type Loader struct {
	gateway catalogGateway
	store   movieStore
	logger  *zap.Logger
	scope   tally.Scope

	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a new bulk loader.
func New(gateway catalogGateway, store movieStore, logger *zap.Logger, scope tally.Scope) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Loader{
		gateway: gateway,
		store:   store,
		logger:  logger,
		scope:   scope,
		done:    make(chan struct{}),
	}
}

// Done is closed once the first LoadAll has finished, successfully or not.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// LoadAll fetches the whole remote catalog and merges it into the replica.
// Fetch and decode failures are returned and leave the replica untouched;
// records rejected by the replica schema are logged and skipped.
func (l *Loader) LoadAll(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyLoaded
	}
	defer l.doneOnce.Do(func() { close(l.done) })

	movies, err := l.gateway.List(ctx)
	if err != nil {
		l.scope.Counter("failures").Inc(1)
		return fmt.Errorf("fetch catalog: %w", err)
	}

	err = l.store.UpsertMany(ctx, movies)
	rejected := 0
	for _, e := range multierr.Errors(err) {
		var verr *replica.ValidationError
		if !errors.As(e, &verr) {
			l.scope.Counter("failures").Inc(1)
			return fmt.Errorf("merge catalog: %w", e)
		}
		rejected++
		l.logger.Warn("Skipping invalid movie from catalog", zap.Error(e))
	}
	l.scope.Counter("loaded").Inc(int64(len(movies) - rejected))
	l.scope.Counter("rejected").Inc(int64(rejected))
	l.logger.Info("Catalog loaded", zap.Int("movies", len(movies)), zap.Int("rejected", rejected))
	return nil
}
