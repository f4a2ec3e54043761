package importer

import "errors"

// Control-plane errors returned synchronously to the API caller. None of them
// mutate job state.
var (
	ErrAlreadyRunning = errors.New("an import job of this kind is already active")
	ErrNoItemsFound   = errors.New("remote source reports no items to import")
	ErrJobStillActive = errors.New("import job is still active, stop it before resetting")
	ErrUnknownKind    = errors.New("unknown import kind")
)
