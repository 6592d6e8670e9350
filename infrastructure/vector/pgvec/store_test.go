package pgvec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceTable(t *testing.T) {
	table, err := spaceTable("")
	require.NoError(t, err)
	assert.Equal(t, "vectors_default", table)

	table, err = spaceTable("chunk_summary")
	require.NoError(t, err)
	assert.Equal(t, "vectors_chunk_summary", table)

	_, err = spaceTable("Drop Table")
	assert.Error(t, err)
	_, err = spaceTable("a; --")
	assert.Error(t, err)
}

func TestKnownTablesIncludesDiscoveredSpaces(t *testing.T) {
	s := &Store{spaces: map[string]int{
		"vectors_default": 1536,
		"vectors_title":   768,
	}}
	assert.ElementsMatch(t,
		[]string{"vectors_default", "vectors_title"}, s.knownTables())
}
