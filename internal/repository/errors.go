package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a conditional write observed unexpected state,
// typically a deployment transition racing a concurrent writer.
var ErrConflict = errors.New("repository: conflict")
