package repository

import (
	"context"
	"errors"

	"selftreat/internal/domain"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrClosed is returned by stores that no longer accept operations.
	ErrClosed = errors.New("store closed")
)

// Store is a record store owning both collections and the id counter.
type Store interface {
	AdminRepository
	DiseaseRepository

	// Init loads persisted state, creating a fresh document holding
	// defaultAdmin when nothing usable exists. It also adds defaultAdmin
	// when the loaded document has no administrators.
	Init(ctx context.Context, defaultAdmin domain.Admin) error
	// Snapshot returns a deep copy of the whole document.
	Snapshot(ctx context.Context) (*domain.Document, error)
	Close() error
}
