package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/predicate"
)

func doc(age int32, name string) *bson.Document {
	d := bson.NewDocument()
	d.Set("age", bson.Int32(age))
	d.Set("name", bson.String(name))
	return d
}

func TestEvalAndOr(t *testing.T) {
	p := predicate.And(predicate.Gt("age", bson.Int32(18)), predicate.Eq("name", bson.String("Alice")))
	require.True(t, predicate.Eval(p, doc(30, "Alice")))
	require.False(t, predicate.Eval(p, doc(10, "Alice")))
	require.False(t, predicate.Eval(p, doc(30, "Bob")))

	p2 := predicate.Or(predicate.Eq("name", bson.String("Alice")), predicate.Eq("name", bson.String("Bob")))
	require.True(t, predicate.Eval(p2, doc(1, "Bob")))
}

func TestEvalNotAndMissingField(t *testing.T) {
	p := predicate.Eq("missing", bson.Int32(1))
	require.False(t, predicate.Eval(p, doc(1, "x")))
	require.True(t, predicate.Eval(predicate.Not(p), doc(1, "x")))
}

func TestEvalStringOps(t *testing.T) {
	require.True(t, predicate.Eval(predicate.StartsWith("name", "Al"), doc(1, "Alice")))
	require.True(t, predicate.Eval(predicate.EndsWith("name", "ce"), doc(1, "Alice")))
	require.True(t, predicate.Eval(predicate.Contains("name", "lic"), doc(1, "Alice")))
	require.False(t, predicate.Eval(predicate.Contains("name", "zzz"), doc(1, "Alice")))
}

func TestExtractRangeFromAnd(t *testing.T) {
	p := predicate.And(predicate.Ge("age", bson.Int32(18)), predicate.Lt("age", bson.Int32(65)))
	r, ok := predicate.ExtractRange(p, "age")
	require.True(t, ok)
	lo, _ := r.Low.AsInt32()
	hi, _ := r.High.AsInt32()
	require.Equal(t, int32(18), lo)
	require.Equal(t, int32(65), hi)
	require.True(t, r.LowIncl)
	require.False(t, r.HighIncl)
}

func TestExtractRangeFailsOnUnrelatedField(t *testing.T) {
	p := predicate.Eq("name", bson.String("x"))
	_, ok := predicate.ExtractRange(p, "age")
	require.False(t, ok)
}
