package auditchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_defaultsToNewestFirst(t *testing.T) {
	c := newChain(t, NewMemoryStore())
	a := c.createFolder(t, "folder-1")
	c.createFolder(t, "folder-2")
	b, err := c.appender.Record(ctx, ActionRenameFolder, ResourceFolder, "folder-1", "alice", map[string]any{"name": "renamed"})
	require.NoError(t, err)

	trail, err := c.query.Trail(ctx, "folder-1", "")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, b.ID, trail[0].ID)
	assert.Equal(t, a.ID, trail[1].ID)

	trail, err = c.query.Trail(ctx, "folder-1", SortAsc)
	require.NoError(t, err)
	assert.Equal(t, a.ID, trail[0].ID)
	assert.Equal(t, a.Hash, trail[0].Hash)
	assert.Equal(t, c.genesis.Hash, trail[0].PreviousHash)
}

func TestTrail_requiresResource(t *testing.T) {
	c := newChain(t, NewMemoryStore())
	_, err := c.query.Trail(ctx, "", SortAsc)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearch_defaultsToOldestFirst(t *testing.T) {
	c := newChain(t, NewMemoryStore())
	c.createFolder(t, "a")
	c.createFolder(t, "b")

	got, err := c.query.Search(ctx, Filter{Action: ActionCreateFolder})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ResourceID)
}

func TestSearch_invalidRange(t *testing.T) {
	c := newChain(t, NewMemoryStore())
	from := time.Now()
	to := from.Add(-time.Hour)
	_, err := c.query.Search(ctx, Filter{From: &from, To: &to})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestGetAndHead(t *testing.T) {
	c := newChain(t, NewMemoryStore())
	a := c.createFolder(t, "a")

	got, err := c.query.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, got.Hash)

	_, err = c.query.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	head, err := c.query.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, head.ID)

	n, err := c.query.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = NewQueryService(NewMemoryStore()).Head(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
