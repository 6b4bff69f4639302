package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Admin applies admin overrides to the live endpoint states and keeps them
// in the database so they survive a restart.
type Admin struct {
	db     Store
	states *state.Store
	logger zerolog.Logger
}

// NewAdmin creates an Admin over db and states.
func NewAdmin(db Store, states *state.Store) *Admin {
	return &Admin{db: db, states: states, logger: log.WithComponent("admin")}
}

// Restore applies every stored override and returns how many took effect.
// Overrides naming endpoints that no longer exist stay stored, so they
// apply again if the endpoint comes back.
func (a *Admin) Restore() (int, error) {
	stored, err := a.db.ListAdminStates()
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, st := range stored {
		s, err := st.STTL()
		if err != nil {
			a.logger.Warn().Err(err).Str("endpoint", st.Desc).Msg("ignoring stored admin state")
			continue
		}
		if err := a.states.Force(st.Desc, s); err != nil {
			a.logger.Warn().Err(err).Str("endpoint", st.Desc).Msg("stored admin state not applied")
			continue
		}
		applied++
	}
	a.logger.Info().Int("stored", len(stored)).Int("applied", applied).Msg("admin states restored")
	return applied, nil
}

// Set forces desc to text ("UP", "DOWN/60", ...) and persists it.
func (a *Admin) Set(desc, text, reason string) (*AdminState, error) {
	text = strings.ToUpper(strings.TrimSpace(text))
	st := &AdminState{
		ID:     uuid.New().String(),
		Desc:   desc,
		State:  text,
		Reason: reason,
		SetAt:  time.Now().UTC(),
	}
	s, err := st.STTL()
	if err != nil {
		return nil, err
	}
	if err := a.states.Force(desc, s); err != nil {
		return nil, err
	}
	if err := a.db.PutAdminState(st); err != nil {
		if uerr := a.states.Unforce(desc); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return nil, fmt.Errorf("failed to persist admin state: %w", err)
	}
	a.logger.Info().
		Str("endpoint", desc).
		Str("state", text).
		Str("reason", reason).
		Str("id", st.ID).
		Msg("admin state set")
	return st, nil
}

// Clear removes the override of desc. Clearing a stored override for an
// endpoint that is no longer configured just deletes it.
func (a *Admin) Clear(desc string) error {
	uerr := a.states.Unforce(desc)
	if uerr != nil && !errors.Is(uerr, state.ErrUnknownEndpoint) {
		return uerr
	}
	if err := a.db.DeleteAdminState(desc); err != nil {
		if errors.Is(err, ErrNotFound) && uerr == nil {
			// forced by someone without persisting; unforcing was enough
			return nil
		}
		return err
	}
	a.logger.Info().Str("endpoint", desc).Msg("admin state cleared")
	return nil
}

// List returns the stored overrides.
func (a *Admin) List() ([]*AdminState, error) {
	return a.db.ListAdminStates()
}
