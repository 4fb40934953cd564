package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    ID
		wantErr bool
	}{
		{name: "int", in: 7, want: "7"},
		{name: "int64", in: int64(42), want: "42"},
		{name: "uint64", in: uint64(9), want: "9"},
		{name: "string", in: "7", want: "7"},
		{name: "integral float", in: float64(3), want: "3"},
		{name: "json number", in: json.Number("12"), want: "12"},
		{name: "json number beyond int64", in: json.Number("12345678901234567890"), want: "12345678901234567890"},
		{name: "negative json number beyond int64", in: json.Number("-98765432109876543210"), want: "-98765432109876543210"},
		{name: "fractional float", in: 1.5, wantErr: true},
		{name: "float beyond int64", in: 1e19, wantErr: true},
		{name: "negative float beyond int64", in: -1e19, wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDUnmarshalNumberAndString(t *testing.T) {
	var ev ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(`{"action":"delete","movie_id":2}`), &ev))
	assert.Equal(t, ID("2"), ev.MovieID)

	var m Movie
	require.NoError(t, json.Unmarshal([]byte(`{"id":"15","name":"A"}`), &m))
	assert.Equal(t, ID("15"), m.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":15,"name":"A"}`), &m))
	assert.Equal(t, ID("15"), m.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":1.25}`), &m))
}

func TestLargeNumericIDsStayDistinct(t *testing.T) {
	var a, b ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(`{"action":"delete","movie_id":12345678901234567890}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"action":"delete","movie_id":98765432109876543210}`), &b))

	assert.Equal(t, ID("12345678901234567890"), a.MovieID)
	assert.Equal(t, ID("98765432109876543210"), b.MovieID)
	assert.NotEqual(t, a.MovieID, b.MovieID)
}

func TestIDMarshalsAsString(t *testing.T) {
	b, err := json.Marshal(Movie{ID: MustParseID(3), Name: "C"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":"3"`)
}

func TestMovieEqualAndClone(t *testing.T) {
	avg := 4.0
	m := &Movie{ID: "1", Name: "A", Image: "http://x/a.png", AverageRating: &avg,
		Ratings: []Rating{{ID: 1, Movie: 1, Rating: 4}}}
	c := m.Clone()
	assert.True(t, m.Equal(c))

	*c.AverageRating = 3
	assert.False(t, m.Equal(c))
	assert.Equal(t, 4.0, *m.AverageRating)

	c = m.Clone()
	c.Ratings[0].Rating = 5
	assert.False(t, m.Equal(c))
	assert.Equal(t, RatingValue(4), m.Ratings[0].Rating)
}
