// Package replica implements the local movie replica: a validated, durable
// document collection with tombstones and live sorted projections.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/repository"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/go-playground/validator/v10"
	"github.com/uber-go/tally/v4"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tracerID = "movie-replica"

// removeAttempts bounds how often Remove retries after losing a race.
const removeAttempts = 3

// Repository persists replica documents, tombstones included.
type Repository interface {
	Get(ctx context.Context, id model.ID) (*model.Document, error)
	List(ctx context.Context) ([]*model.Document, error)
	Put(ctx context.Context, doc *model.Document) error
	PutMany(ctx context.Context, docs []*model.Document) error
	Delete(ctx context.Context, id model.ID) error
	Close() error
}

// Store owns the replica records. Writes are serialized and applied in the
// order they are invoked; every effective write notifies open projections.
type Store struct {
	mu     sync.Mutex
	repo   Repository
	docs   map[model.ID]*model.Document
	subs   map[*Projection]struct{}
	closed bool

	validator *validator.Validate
	logger    *zap.Logger
	scope     tally.Scope
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithScope sets the metrics scope.
func WithScope(scope tally.Scope) Option {
	return func(s *Store) { s.scope = scope }
}

// WithClock overrides the time source used for tombstone timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the collection held by repo and returns a store over it.
func Open(ctx context.Context, repo Repository, opts ...Option) (*Store, error) {
	s := &Store{
		repo:      repo,
		docs:      map[model.ID]*model.Document{},
		subs:      map[*Projection]struct{}{},
		validator: newValidator(),
		logger:    zap.NewNop(),
		scope:     tally.NoopScope,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, span := otel.Tracer(tracerID).Start(ctx, "Store/Open")
	defer span.End()

	docs, err := repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load replica: %w", err)
	}
	for _, d := range docs {
		if d.Movie == nil {
			continue
		}
		s.docs[d.Movie.ID] = d
	}
	s.logger.Info("Replica opened", zap.Int("documents", len(s.docs)))
	return s, nil
}

// UpsertOne validates and writes a movie, wholly replacing any record with
// the same id. Writing content identical to the live record is a no-op.
func (s *Store) UpsertOne(ctx context.Context, m *model.Movie) error {
	ctx, span := otel.Tracer(tracerID).Start(ctx, "Store/UpsertOne")
	defer span.End()

	if err := s.validate(m); err != nil {
		s.scope.Counter("rejected").Inc(1)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, changed := s.nextLocked(m)
	if !changed {
		return nil
	}
	if err := s.repo.Put(ctx, doc); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist movie %s: %w", m.ID, err)
	}
	s.docs[m.ID] = doc
	s.scope.Counter("writes").Inc(1)
	s.notifyLocked()
	return nil
}

// UpsertMany writes a batch of movies. Invalid movies are skipped and their
// ValidationErrors returned combined; valid ones are persisted regardless.
func (s *Store) UpsertMany(ctx context.Context, movies []*model.Movie) error {
	ctx, span := otel.Tracer(tracerID).Start(ctx, "Store/UpsertMany")
	defer span.End()

	var invalid error
	valid := make([]*model.Movie, 0, len(movies))
	for _, m := range movies {
		if err := s.validate(m); err != nil {
			s.scope.Counter("rejected").Inc(1)
			invalid = multierr.Append(invalid, err)
			continue
		}
		valid = append(valid, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	pending := map[model.ID]*model.Document{}
	var order []model.ID
	for _, m := range valid {
		prev, seen := pending[m.ID]
		if seen {
			// Later entries of the batch win.
			if prev.Movie.Equal(m) {
				continue
			}
			prev.Movie = m.Clone()
			continue
		}
		doc, changed := s.nextLocked(m)
		if !changed {
			continue
		}
		pending[m.ID] = doc
		order = append(order, m.ID)
	}
	docs := make([]*model.Document, 0, len(order))
	for _, id := range order {
		// The batch may have collapsed back onto the live content.
		if cur, ok := s.docs[id]; ok && !cur.Deleted && cur.Movie.Equal(pending[id].Movie) {
			continue
		}
		docs = append(docs, pending[id])
	}
	if len(docs) == 0 {
		return invalid
	}
	if err := s.repo.PutMany(ctx, docs); err != nil {
		span.RecordError(err)
		return multierr.Append(fmt.Errorf("persist %d movies: %w", len(docs), err), invalid)
	}
	for _, d := range docs {
		s.docs[d.Movie.ID] = d
	}
	s.scope.Counter("writes").Inc(int64(len(docs)))
	s.notifyLocked()
	return invalid
}

// FindByID returns a copy of the live movie with the given id.
func (s *Store) FindByID(ctx context.Context, id model.ID) (*model.Movie, error) {
	_, span := otel.Tracer(tracerID).Start(ctx, "Store/FindByID")
	defer span.End()

	doc, ok := s.lookup(id)
	if !ok || doc.Deleted {
		return nil, ErrNotFound
	}
	return doc.Movie, nil
}

// Remove tombstones the movie with the given id. Removing a missing or
// already tombstoned id is a no-op, as is losing the removal to a
// concurrent mutation that cannot be retried.
func (s *Store) Remove(ctx context.Context, id model.ID) error {
	ctx, span := otel.Tracer(tracerID).Start(ctx, "Store/Remove")
	defer span.End()

	for attempt := 1; attempt <= removeAttempts; attempt++ {
		doc, ok := s.lookup(id)
		if !ok || doc.Deleted {
			s.logger.Debug("Movie already absent", zap.String("id", id.String()))
			return nil
		}
		err := s.RemoveRevision(ctx, id, doc.Revision)
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		s.logger.Debug("Removal lost a race", zap.String("id", id.String()), zap.Int("attempt", attempt), zap.Error(err))
	}
	s.logger.Warn("Skipping removal after repeated conflicts", zap.String("id", id.String()))
	return nil
}

// RemoveRevision tombstones the movie only if it is live at revision rev.
// Otherwise it returns a *ConflictError.
func (s *Store) RemoveRevision(ctx context.Context, id model.ID, rev uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cur, ok := s.docs[id]
	if !ok {
		return &ConflictError{ID: id, Expected: rev, Deleted: true}
	}
	if cur.Deleted || cur.Revision != rev {
		return &ConflictError{ID: id, Expected: rev, Actual: cur.Revision, Deleted: cur.Deleted}
	}
	tomb := &model.Document{
		Movie:     cur.Movie,
		Revision:  cur.Revision + 1,
		Deleted:   true,
		UpdatedAt: s.now(),
	}
	if err := s.repo.Put(ctx, tomb); err != nil {
		return fmt.Errorf("persist tombstone %s: %w", id, err)
	}
	s.docs[id] = tomb
	s.scope.Counter("removes").Inc(1)
	s.notifyLocked()
	return nil
}

// Purge physically erases tombstones older than the given age and returns
// how many were erased. A tombstone the repository holds at another
// revision is adopted from the repository instead of erased.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := otel.Tracer(tracerID).Start(ctx, "Store/Purge")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	cutoff := s.now().Add(-olderThan)
	purged := 0
	revived := false
	for id, d := range s.docs {
		if !d.Deleted || d.UpdatedAt.After(cutoff) {
			continue
		}
		// A shared repository may hold a newer revision written elsewhere.
		stored, err := s.repo.Get(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			delete(s.docs, id)
			purged++
			continue
		case err != nil:
			return purged, fmt.Errorf("purge %s: %w", id, err)
		case stored.Revision != d.Revision:
			s.docs[id] = stored
			revived = revived || !stored.Deleted
			continue
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return purged, fmt.Errorf("purge %s: %w", id, err)
		}
		delete(s.docs, id)
		purged++
	}
	if revived {
		s.notifyLocked()
	}
	return purged, nil
}

// Len returns the number of live movies.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if !d.Deleted {
			n++
		}
	}
	return n
}

// Close ends every projection and closes the repository.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for p := range s.subs {
		p.endLocked(ErrClosed)
	}
	s.subs = nil
	return s.repo.Close()
}

// nextLocked builds the document that would replace the current record with
// m, and reports whether it differs from what is live.
func (s *Store) nextLocked(m *model.Movie) (*model.Document, bool) {
	cur, ok := s.docs[m.ID]
	var rev uint64
	if ok {
		if !cur.Deleted && cur.Movie.Equal(m) {
			return nil, false
		}
		rev = cur.Revision
	}
	return &model.Document{
		Movie:     m.Clone(),
		Revision:  rev + 1,
		UpdatedAt: s.now(),
	}, true
}

func (s *Store) lookup(id model.ID) (*model.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	c := *d
	c.Movie = d.Movie.Clone()
	return &c, true
}
