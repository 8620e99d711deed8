package btree

import "github.com/sdbio/sdb/bson"

// compareKeys orders two composite key tuples field-by-field using the
// type-ranked value ordering of spec §3; a tuple that is a prefix of
// the other sorts first. It does not look at locators: Tree.Insert
// breaks ties between equal keys by locator when it picks an insert
// position, so entries in a non-unique index stay deterministically
// ordered (spec §4.7).
func compareKeys(a, b []bson.Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := bson.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func keyContainsNull(key []bson.Value) bool {
	for _, v := range key {
		if v.IsNull() {
			return true
		}
	}
	return false
}
