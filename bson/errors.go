package bson

import "errors"

// ErrMalformed is returned by Decode when the input is not a valid
// encoded document: a bad length prefix, wrong sentinel byte, unknown
// type tag, or invalid UTF-8.
var ErrMalformed = errors.New("bson: malformed document")

// ErrInvalidArgument is returned by Encode (or value constructors) when
// a value is outside what this codec can represent — e.g. a Decimal128
// literal whose precision exceeds what the 16-byte slot holds.
var ErrInvalidArgument = errors.New("bson: invalid argument")
