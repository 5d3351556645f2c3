package core

import "errors"

// Request error kinds. Handlers wrap these so the transport layer can map a
// failure onto the right reply without inspecting message text.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)
