package survey

import "errors"

// ErrNotFound is returned by definition sources for an unknown survey id.
var ErrNotFound = errors.New("survey not found")
