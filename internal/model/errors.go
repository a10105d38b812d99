package model

import "errors"

// ErrNotFound is returned when an item, tag or pending record id no longer
// resolves. Callers applying notification actions treat it as a silent drop.
var ErrNotFound = errors.New("not found")
