package storage

import (
	"errors"
	"time"

	"github.com/cuemby/dynadns/pkg/sttl"
)

// ErrNotFound is returned when no admin state is stored for an endpoint.
var ErrNotFound = errors.New("admin state not found")

// AdminState is a persisted override of one endpoint's published state.
type AdminState struct {
	ID     string    `json:"id"`
	Desc   string    `json:"desc"`
	State  string    `json:"state"` // UP, DOWN, UP/<ttl> or DOWN/<ttl>
	Reason string    `json:"reason,omitempty"`
	SetAt  time.Time `json:"set_at"`
}

// STTL parses State.
func (a *AdminState) STTL() (sttl.STTL, error) {
	return sttl.Parse(a.State)
}

// Store defines the interface for admin state persistence
type Store interface {
	PutAdminState(st *AdminState) error
	GetAdminState(desc string) (*AdminState, error)
	ListAdminStates() ([]*AdminState, error)
	DeleteAdminState(desc string) error

	// Utility
	Close() error
}
