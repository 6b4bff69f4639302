package storage

import (
	"testing"
	"time"

	"github.com/cuemby/dynadns/pkg/health"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStates(t *testing.T) *state.Store {
	t.Helper()
	st := &health.ServiceType{
		Name:       "web",
		Plugin:     string(health.CheckTypeHTTP),
		Interval:   10 * time.Second,
		Timeout:    5 * time.Second,
		UpThresh:   1,
		OKThresh:   1,
		DownThresh: 1,
	}
	s := state.NewStore()
	for _, target := range []string{"192.0.2.1", "192.0.2.2"} {
		_, err := s.Register(st, target, false)
		require.NoError(t, err)
	}
	return s
}

func TestAdminSetAndClear(t *testing.T) {
	db := openStore(t, t.TempDir())
	defer db.Close()
	states := newStates(t)
	admin := NewAdmin(db, states)

	st, err := admin.Set("web/192.0.2.1", " down/300 ", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, "DOWN/300", st.State)
	assert.NotEmpty(t, st.ID)

	ep, _ := states.Lookup("web/192.0.2.1")
	assert.True(t, ep.State().IsDown())
	assert.True(t, ep.State().IsForced())
	assert.EqualValues(t, 10, ep.State().TTL(), "forced TTL is capped at the interval")

	stored, err := db.GetAdminState("web/192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "maintenance", stored.Reason)

	require.NoError(t, admin.Clear("web/192.0.2.1"))
	assert.False(t, ep.State().IsForced())
	_, err = db.GetAdminState("web/192.0.2.1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminSetErrors(t *testing.T) {
	db := openStore(t, t.TempDir())
	defer db.Close()
	admin := NewAdmin(db, newStates(t))

	_, err := admin.Set("web/192.0.2.1", "SIDEWAYS", "")
	assert.Error(t, err)

	_, err = admin.Set("web/192.0.2.9", "DOWN", "")
	assert.ErrorIs(t, err, state.ErrUnknownEndpoint)

	list, err := admin.List()
	require.NoError(t, err)
	assert.Empty(t, list, "failed sets are not persisted")

	assert.ErrorIs(t, admin.Clear("web/192.0.2.9"), ErrNotFound)
}

func TestAdminRestore(t *testing.T) {
	dir := t.TempDir()
	db := openStore(t, dir)
	require.NoError(t, db.PutAdminState(&AdminState{Desc: "web/192.0.2.2", State: "DOWN"}))
	require.NoError(t, db.PutAdminState(&AdminState{Desc: "web/192.0.2.7", State: "DOWN"}))
	require.NoError(t, db.PutAdminState(&AdminState{Desc: "web/192.0.2.1", State: "bogus"}))

	states := newStates(t)
	admin := NewAdmin(db, states)
	n, err := admin.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ep, _ := states.Lookup("web/192.0.2.2")
	assert.True(t, ep.State().IsDown())

	list, err := admin.List()
	require.NoError(t, err)
	assert.Len(t, list, 3, "unapplied overrides stay stored")

	require.NoError(t, admin.Clear("web/192.0.2.7"), "stale overrides can be cleared")
	require.NoError(t, db.Close())
}
