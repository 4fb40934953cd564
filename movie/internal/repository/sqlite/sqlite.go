package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abhishek622/moviereplica/movie/internal/repository"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository defines a sqlite backed movie document repository. Each
// collection name maps to its own database file, so reopening with the same
// name restores the previous session.
type Repository struct {
	db *gorm.DB
}

type movieRow struct {
	ID        string `gorm:"primaryKey;size:100"`
	Revision  uint64
	Deleted   bool `gorm:"index"`
	ChangedAt time.Time
	Data      []byte
}

func (movieRow) TableName() string {
	return "movies"
}

// New opens (or creates) the collection file <dir>/<name>.db.
func New(dir, name string) (*Repository, error) {
	if name == "" {
		return nil, errors.New("sqlite repository: empty collection name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, name+".db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}
	if err := db.AutoMigrate(&movieRow{}); err != nil {
		return nil, fmt.Errorf("migrate movies table: %w", err)
	}
	return &Repository{db: db}, nil
}

// Get retrieves a movie document by movie id.
func (r *Repository) Get(ctx context.Context, id model.ID) (*model.Document, error) {
	var row movieRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

// List returns every stored document, tombstones included.
func (r *Repository) List(ctx context.Context) ([]*model.Document, error) {
	var rows []movieRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]*model.Document, 0, len(rows))
	for i := range rows {
		d, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

// Put stores a movie document, replacing any previous row with the same id.
func (r *Repository) Put(ctx context.Context, doc *model.Document) error {
	row, err := toRow(doc)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// PutMany stores several documents in one transaction.
func (r *Repository) PutMany(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]*movieRow, 0, len(docs))
	for _, d := range docs {
		row, err := toRow(d)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rows).Error
	})
}

// Delete physically erases a document. Missing ids are ignored.
func (r *Repository) Delete(ctx context.Context, id model.ID) error {
	return r.db.WithContext(ctx).Delete(&movieRow{}, "id = ?", string(id)).Error
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(d *model.Document) (*movieRow, error) {
	data, err := json.Marshal(d.Movie)
	if err != nil {
		return nil, fmt.Errorf("encode movie %s: %w", d.Movie.ID, err)
	}
	return &movieRow{
		ID:        string(d.Movie.ID),
		Revision:  d.Revision,
		Deleted:   d.Deleted,
		ChangedAt: d.UpdatedAt,
		Data:      data,
	}, nil
}

func fromRow(row *movieRow) (*model.Document, error) {
	var m model.Movie
	if err := json.Unmarshal(row.Data, &m); err != nil {
		return nil, fmt.Errorf("decode movie %s: %w", row.ID, err)
	}
	return &model.Document{
		Movie:     &m,
		Revision:  row.Revision,
		Deleted:   row.Deleted,
		UpdatedAt: row.ChangedAt,
	}, nil
}
