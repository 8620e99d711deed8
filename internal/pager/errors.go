package pager

import "errors"

// ErrInvalidArgument is returned for malformed creation options (bad
// page size, etc).
var ErrInvalidArgument = errors.New("pager: invalid argument")
