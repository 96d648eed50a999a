package updater

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrManifestUnavailable means the remote version manifest could not be
	// fetched or decoded. Nothing was changed.
	ErrManifestUnavailable = errors.New("version manifest unavailable")
	// ErrIncompleteFetchSet means a staged file was missing or empty at
	// verification. Nothing live was changed.
	ErrIncompleteFetchSet = errors.New("incomplete fetch set")
	// ErrInstallFailed means an install step failed and every file already
	// installed was restored. The device still runs the old release.
	ErrInstallFailed = errors.New("install failed and was rolled back")
	// ErrPartialInstall means an install step failed and restoring the
	// files installed before it failed too: the device holds a mix of old
	// and new files.
	ErrPartialInstall = errors.New("partial install")
)

// FileFetchError reports a release file that could not be fetched. The
// update is abandoned without touching live files.
type FileFetchError struct {
	Path string
	Err  error
}

func (e *FileFetchError) Error() string {
	return fmt.Sprintf("unable to fetch %s: %v", e.Path, e.Err)
}

func (e *FileFetchError) Unwrap() error {
	return e.Err
}

func (e *FileFetchError) Cause() error {
	return e.Err
}
