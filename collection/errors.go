package collection

import (
	"errors"

	"github.com/sdbio/sdb/internal/btree"
)

func isBtreeDuplicate(err error) bool {
	return errors.Is(err, btree.ErrDuplicateKey)
}

func isBtreeNotFound(err error) bool {
	return errors.Is(err, btree.ErrNotFound)
}
