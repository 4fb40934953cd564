package memory

import (
	"context"
	"sync"

	"github.com/abhishek622/moviereplica/movie/internal/repository"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"go.opentelemetry.io/otel"
)

// Repository defines a memory movie document repository.
type Repository struct {
	sync.RWMutex
	data map[model.ID]*model.Document
}

const tracerID = "movie-repository-memory"

// New creates a new memory repository.
func New() *Repository {
	return &Repository{data: map[model.ID]*model.Document{}}
}

// Get retrieves a movie document by movie id.
func (r *Repository) Get(ctx context.Context, id model.ID) (*model.Document, error) {
	r.RLock()
	defer r.RUnlock()

	_, span := otel.Tracer(tracerID).Start(ctx, "Repository/Get")
	defer span.End()

	d, ok := r.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDocument(d), nil
}

// List returns every stored document, tombstones included.
func (r *Repository) List(ctx context.Context) ([]*model.Document, error) {
	r.RLock()
	defer r.RUnlock()

	_, span := otel.Tracer(tracerID).Start(ctx, "Repository/List")
	defer span.End()

	res := make([]*model.Document, 0, len(r.data))
	for _, d := range r.data {
		res = append(res, cloneDocument(d))
	}
	return res, nil
}

// Put stores a movie document under its movie id.
func (r *Repository) Put(ctx context.Context, doc *model.Document) error {
	r.Lock()
	defer r.Unlock()

	_, span := otel.Tracer(tracerID).Start(ctx, "Repository/Put")
	defer span.End()

	r.data[doc.Movie.ID] = cloneDocument(doc)
	return nil
}

// PutMany stores several documents at once.
func (r *Repository) PutMany(ctx context.Context, docs []*model.Document) error {
	r.Lock()
	defer r.Unlock()

	_, span := otel.Tracer(tracerID).Start(ctx, "Repository/PutMany")
	defer span.End()

	for _, d := range docs {
		r.data[d.Movie.ID] = cloneDocument(d)
	}
	return nil
}

// Delete physically erases a document. Missing ids are ignored.
func (r *Repository) Delete(ctx context.Context, id model.ID) error {
	r.Lock()
	defer r.Unlock()

	_, span := otel.Tracer(tracerID).Start(ctx, "Repository/Delete")
	defer span.End()

	delete(r.data, id)
	return nil
}

// Close is a no-op for the memory repository.
func (r *Repository) Close() error {
	return nil
}

func cloneDocument(d *model.Document) *model.Document {
	c := *d
	c.Movie = d.Movie.Clone()
	return &c
}
