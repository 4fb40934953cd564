package model

import (
	"slices"
	"time"
)

// Movie defines a catalog record as held by the local replica.
type Movie struct {
	ID            ID       `json:"id" validate:"required,max=100"`
	Name          string   `json:"name" validate:"required"`
	Description   string   `json:"description"`
	Duration      int      `json:"duration" validate:"gte=0"`
	Image         string   `json:"image" validate:"required,url"`
	AverageRating *float64 `json:"average_rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Ratings       []Rating `json:"ratings,omitempty" validate:"omitempty,dive"`
}

// Fields are the user supplied values of a new movie.
type Fields struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Image       string `json:"image"`
}

// Clone returns a deep copy of the movie.
func (m *Movie) Clone() *Movie {
	if m == nil {
		return nil
	}
	c := *m
	if m.AverageRating != nil {
		v := *m.AverageRating
		c.AverageRating = &v
	}
	c.Ratings = slices.Clone(m.Ratings)
	return &c
}

// Equal reports whether two movies carry the same content.
func (m *Movie) Equal(o *Movie) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.ID != o.ID || m.Name != o.Name || m.Description != o.Description ||
		m.Duration != o.Duration || m.Image != o.Image {
		return false
	}
	switch {
	case m.AverageRating == nil && o.AverageRating != nil,
		m.AverageRating != nil && o.AverageRating == nil:
		return false
	case m.AverageRating != nil && *m.AverageRating != *o.AverageRating:
		return false
	}
	return slices.Equal(m.Ratings, o.Ratings)
}

// Document is the stored envelope of a movie. A deleted document is a
// tombstone: it stays in storage but is logically absent.
type Document struct {
	Movie     *Movie    `json:"movie"`
	Revision  uint64    `json:"revision"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
}
