package model

// ChangeAction is the kind of change a push notification describes.
type ChangeAction string

const (
	ChangeActionCreate = ChangeAction("create")
	ChangeActionUpdate = ChangeAction("update")
	ChangeActionDelete = ChangeAction("delete")
)

// ChangeEvent is a catalog change notification delivered by the push channel.
type ChangeEvent struct {
	Action  ChangeAction `json:"action"`
	Movie   *Movie       `json:"movie,omitempty"`
	MovieID ID           `json:"movie_id,omitempty"`
}

// SortField names a movie field a projection can be ordered by.
type SortField string

const (
	SortByID            = SortField("id")
	SortByName          = SortField("name")
	SortByDescription   = SortField("description")
	SortByDuration      = SortField("duration")
	SortByAverageRating = SortField("average_rating")
)

// Valid reports whether the field is sortable.
func (f SortField) Valid() bool {
	switch f {
	case SortByID, SortByName, SortByDescription, SortByDuration, SortByAverageRating:
		return true
	}
	return false
}
