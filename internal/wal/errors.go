package wal

import "errors"

// ErrCorrupt is returned when a journal record's length or checksum
// does not check out; recovery surfaces this rather than skipping the
// bad record (spec §7: "Corrupt during recovery short-circuits open").
var ErrCorrupt = errors.New("wal: corrupt journal record")
