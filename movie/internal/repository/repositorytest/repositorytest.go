// Package repositorytest holds behaviour checks shared by every movie
// document repository backend.
package repositorytest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/repository"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Repository is the surface under test.
type Repository interface {
	Get(ctx context.Context, id model.ID) (*model.Document, error)
	List(ctx context.Context) ([]*model.Document, error)
	Put(ctx context.Context, doc *model.Document) error
	PutMany(ctx context.Context, docs []*model.Document) error
	Delete(ctx context.Context, id model.ID) error
}

// Doc builds a document for tests.
func Doc(id, name string, rev uint64, deleted bool) *model.Document {
	avg := 3.5
	return &model.Document{
		Movie: &model.Movie{
			ID:            model.ID(id),
			Name:          name,
			Description:   "desc " + name,
			Duration:      90,
			Image:         "https://img.example.com/" + id + ".png",
			AverageRating: &avg,
			Ratings:       []model.Rating{{ID: 1, Movie: 1, Rating: 3}, {ID: 2, Movie: 1, Rating: 4}},
		},
		Revision:  rev,
		Deleted:   deleted,
		UpdatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// Run exercises the repository contract.
func Run(t *testing.T, r Repository) {
	ctx := context.Background()

	_, err := r.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	want := Doc("1", "Alien", 1, false)
	require.NoError(t, r.Put(ctx, want))
	got, err := r.Get(ctx, "1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, timeEqual); diff != "" {
		t.Fatalf("Get() mismatch (-want +got):\n%s", diff)
	}

	replaced := Doc("1", "Aliens", 2, false)
	replaced.Movie.AverageRating = nil
	replaced.Movie.Ratings = nil
	require.NoError(t, r.Put(ctx, replaced))
	got, err = r.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Aliens", got.Movie.Name)
	assert.Nil(t, got.Movie.AverageRating)
	assert.Equal(t, uint64(2), got.Revision)

	require.NoError(t, r.PutMany(ctx, []*model.Document{
		Doc("2", "Brazil", 1, false),
		Doc("3", "Cube", 4, true),
	}))
	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	sort.Slice(all, func(i, j int) bool { return all[i].Movie.ID < all[j].Movie.ID })
	assert.True(t, all[2].Deleted)

	require.NoError(t, r.Delete(ctx, "3"))
	require.NoError(t, r.Delete(ctx, "3"))
	_, err = r.Get(ctx, "3")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, r.PutMany(ctx, nil))
}

var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
