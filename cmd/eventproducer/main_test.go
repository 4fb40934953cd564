package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadChangeEvents(t *testing.T) {
	events, err := readChangeEvents("changeevents.json")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.ID("101"), events[0].Movie.ID)
	assert.Equal(t, model.ChangeActionDelete, events[2].Action)
	assert.Equal(t, model.ID("101"), events[2].MovieID)
}

func TestReadChangeEventsRejectsBadEvents(t *testing.T) {
	for name, body := range map[string]string{
		"no movie":  `[{"action":"create"}]`,
		"no id":     `[{"action":"delete"}]`,
		"bad verb":  `[{"action":"upsert","movie_id":1}]`,
		"not array": `{"action":"delete","movie_id":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "events.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := readChangeEvents(path)
			assert.Error(t, err)
		})
	}
}
