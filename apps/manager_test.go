package apps

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticManager(t *testing.T) {
	ctx := context.Background()
	m := NewStaticManager([]App{
		{ID: "1", Key: "key-1", Secret: "s1", Enabled: true},
		{ID: "2", Key: "key-2", Secret: "s2"},
	})

	app, err := m.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", app.Key)

	app, err = m.FindByKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "2", app.ID)

	_, err = m.FindByID(ctx, "3")
	assert.ErrorIs(t, err, ErrNotFound)

	m.Replace([]App{{ID: "3", Key: "key-3"}})
	_, err = m.FindByID(ctx, "1")
	assert.ErrorIs(t, err, ErrNotFound)
	app, err = m.FindByKey(ctx, "key-3")
	require.NoError(t, err)
	assert.Equal(t, "3", app.ID)
}

func TestStaticManagerReturnsCopies(t *testing.T) {
	m := NewStaticManager([]App{{ID: "1", Key: "k", Secret: "s"}})

	app, err := m.FindByID(context.Background(), "1")
	require.NoError(t, err)
	app.Secret = "mutated"

	again, err := m.FindByID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "s", again.Secret)
}

func newTestBolt(t *testing.T) *BoltManager {
	t.Helper()
	m, err := NewBoltManager(filepath.Join(t.TempDir(), "apps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestBoltManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestBolt(t)

	app := &App{ID: "app-1", Key: "key-1", Secret: "secret", Enabled: true,
		Limits: Limits{MaxEventChannelsAtOnce: 10}}
	require.NoError(t, m.Put(app))

	got, err := m.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, app, got)

	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Delete("app-1"))
	_, err = m.FindByID(ctx, "app-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.FindByKey(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("app-1"), ErrNotFound)
}

func TestBoltManagerKeyRotation(t *testing.T) {
	ctx := context.Background()
	m := newTestBolt(t)

	require.NoError(t, m.Put(&App{ID: "a", Key: "old"}))
	require.NoError(t, m.Put(&App{ID: "a", Key: "new"}))

	_, err := m.FindByKey(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := m.FindByKey(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func TestBoltManagerRejectsKeyCollision(t *testing.T) {
	m := newTestBolt(t)

	require.NoError(t, m.Put(&App{ID: "a", Key: "shared"}))
	assert.Error(t, m.Put(&App{ID: "b", Key: "shared"}))
	assert.Error(t, m.Put(&App{ID: "", Key: "x"}))
}
