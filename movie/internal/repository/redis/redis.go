package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abhishek622/moviereplica/movie/internal/repository"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/redis/go-redis/v9"
)

// Repository defines a redis backed movie document repository. Documents of
// a collection live in one hash, keyed by movie id.
type Repository struct {
	client *redis.Client
	key    string
}

// New creates a repository for the named collection on the given redis address.
func New(ctx context.Context, addr, name string) (*Repository, error) {
	if name == "" {
		return nil, errors.New("redis repository: empty collection name")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Repository{client: client, key: name + ":movies"}, nil
}

// Get retrieves a movie document by movie id.
func (r *Repository) Get(ctx context.Context, id model.ID) (*model.Document, error) {
	val, err := r.client.HGet(ctx, r.key, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return decode(val)
}

// List returns every stored document, tombstones included.
func (r *Repository) List(ctx context.Context) ([]*model.Document, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*model.Document, 0, len(vals))
	for _, v := range vals {
		d, err := decode(v)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

// Put stores a movie document under its movie id.
func (r *Repository) Put(ctx context.Context, doc *model.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key, string(doc.Movie.ID), b).Err()
}

// PutMany stores several documents in one pipelined transaction.
func (r *Repository) PutMany(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		values = append(values, string(d.Movie.ID), b)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key, values...)
		return nil
	})
	return err
}

// Delete physically erases a document. Missing ids are ignored.
func (r *Repository) Delete(ctx context.Context, id model.ID) error {
	return r.client.HDel(ctx, r.key, string(id)).Err()
}

// Close closes the redis client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func decode(v string) (*model.Document, error) {
	var d model.Document
	if err := json.Unmarshal([]byte(v), &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d.Movie == nil {
		return nil, errors.New("decode document: missing movie")
	}
	return &d, nil
}
