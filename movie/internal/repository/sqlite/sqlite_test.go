package sqlite

import (
	"context"
	"testing"

	"github.com/abhishek622/moviereplica/movie/internal/repository/repositorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository(t *testing.T) {
	r, err := New(t.TempDir(), "moviesdb")
	require.NoError(t, err)
	defer r.Close()
	repositorytest.Run(t, r)
}

func TestRepositoryReopensByName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := New(dir, "moviesdb")
	require.NoError(t, err)
	require.NoError(t, r.Put(ctx, repositorytest.Doc("7", "Seven", 3, false)))
	require.NoError(t, r.Close())

	r, err = New(dir, "moviesdb")
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "Seven", got.Movie.Name)
	assert.Equal(t, uint64(3), got.Revision)

	other, err := New(dir, "otherdb")
	require.NoError(t, err)
	defer other.Close()
	all, err := other.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNewRejectsEmptyName(t *testing.T) {
	_, err := New(t.TempDir(), "")
	assert.Error(t, err)
}
