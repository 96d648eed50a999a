package platform

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by a Fetcher when the repository has no such
	// resource.
	ErrNotFound = errors.New("resource not found")
	// ErrUnavailable is returned by a Fetcher when the repository could not
	// be reached or answered with anything other than success or not-found.
	ErrUnavailable = errors.New("repository unavailable")
)

// Fetcher retrieves update artifacts from the remote repository.
type Fetcher interface {
	// Fetch returns the content at path, relative to the repository base.
	// Implementations must return ErrNotFound (possibly wrapped) for missing
	// resources so callers can tell them apart from outages.
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Restarter takes the device down so that newly installed code runs from a
// clean start. A successful Restart does not return control in any useful
// way: the process is about to end.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RestarterFunc adapts a function to a Restarter.
type RestarterFunc func(ctx context.Context) error

func (fn RestarterFunc) Restart(ctx context.Context) error {
	return fn(ctx)
}
