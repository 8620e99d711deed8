package page

import "errors"

// ErrCorrupt is returned when a page's stored checksum does not match
// its computed checksum — recovery and normal reads both surface this
// rather than silently repairing or ignoring it (spec §7).
var ErrCorrupt = errors.New("page: corrupt (checksum mismatch)")

// ErrVersionUnsupported is returned when a header's magic or version
// cannot be read by this implementation.
var ErrVersionUnsupported = errors.New("page: unsupported database version")
