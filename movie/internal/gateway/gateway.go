package gateway

//go:generate mockgen -source=gateway.go -destination=mock/catalog.go -package=mock -mock_names=Catalog=MockCatalogGateway

import (
	"context"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
)

// Catalog is the remote movie catalog contract.
type Catalog interface {
	List(ctx context.Context) ([]*model.Movie, error)
	Create(ctx context.Context, fields model.Fields) (*model.Movie, error)
	Update(ctx context.Context, id model.ID, movie *model.Movie) (*model.Movie, error)
	Delete(ctx context.Context, id model.ID) error
	AddRating(ctx context.Context, id model.ID, value model.RatingValue) (*model.Movie, error)
}
