package model

// RatingValue defines a single user rating, 1 to 5 stars.
type RatingValue int

const (
	MinRatingValue = RatingValue(1)
	MaxRatingValue = RatingValue(5)
)

// Valid reports whether the value is within the accepted star range.
func (v RatingValue) Valid() bool {
	return v >= MinRatingValue && v <= MaxRatingValue
}

// Rating is one rating row attached to a movie by the remote catalog.
type Rating struct {
	ID     int64       `json:"id" validate:"required"`
	Movie  int64       `json:"movie" validate:"required"`
	Rating RatingValue `json:"rating" validate:"required,gte=1,lte=5"`
}
