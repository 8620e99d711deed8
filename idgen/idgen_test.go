package idgen_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/idgen"
)

type memCounter struct{ n int64 }

func (c *memCounter) Next() (int64, error) {
	c.n++
	return c.n, nil
}

func TestObjectIdGeneratorProducesObjectIDValues(t *testing.T) {
	g := idgen.ObjectIdGenerator{}
	v, err := g.Generate()
	require.NoError(t, err)
	require.Equal(t, bson.TypeObjectID, v.Type)

	v2, err := g.Generate()
	require.NoError(t, err)
	require.NotEqual(t, v, v2)
}

func TestGuidGeneratorProducesDistinctUUIDBinaries(t *testing.T) {
	g := idgen.GuidGenerator{}
	v1, err := g.Generate()
	require.NoError(t, err)
	v2, err := g.Generate()
	require.NoError(t, err)

	require.Equal(t, bson.TypeBinary, v1.Type)
	require.NotEqual(t, v1, v2)
}

func TestStringGeneratorProducesNonEmptyDistinctStrings(t *testing.T) {
	g := idgen.StringGenerator{}
	v1, err := g.Generate()
	require.NoError(t, err)
	v2, err := g.Generate()
	require.NoError(t, err)

	s1, ok := v1.AsString()
	require.True(t, ok)
	require.NotEmpty(t, s1)

	s2, _ := v2.AsString()
	require.NotEqual(t, s1, s2)
}

func TestInt32GeneratorDrawsFromCounter(t *testing.T) {
	c := &memCounter{}
	g := idgen.Int32Generator{Counter: c}

	v1, err := g.Generate()
	require.NoError(t, err)
	n1, ok := v1.AsInt32()
	require.True(t, ok)
	require.Equal(t, int32(1), n1)

	v2, err := g.Generate()
	require.NoError(t, err)
	n2, _ := v2.AsInt32()
	require.Equal(t, int32(2), n2)
}

func TestInt64GeneratorDrawsFromCounter(t *testing.T) {
	c := &memCounter{}
	g := idgen.Int64Generator{Counter: c}

	v1, err := g.Generate()
	require.NoError(t, err)
	n1, ok := v1.AsInt64()
	require.True(t, ok)
	require.Equal(t, int64(1), n1)
}

func TestNewDispatchesByIDType(t *testing.T) {
	require.IsType(t, idgen.ObjectIdGenerator{}, idgen.New(idgen.ObjectId, nil))
	require.IsType(t, idgen.GuidGenerator{}, idgen.New(idgen.Guid, nil))
	require.IsType(t, idgen.StringGenerator{}, idgen.New(idgen.String, nil))

	c := &memCounter{}
	i32 := idgen.New(idgen.Int32, c)
	require.IsType(t, idgen.Int32Generator{}, i32)

	i64 := idgen.New(idgen.Int64, c)
	require.IsType(t, idgen.Int64Generator{}, i64)
}

func TestIDTypeString(t *testing.T) {
	require.Equal(t, "ObjectId", idgen.ObjectId.String())
	require.Equal(t, "Guid", idgen.Guid.String())
	require.Equal(t, "Int32", idgen.Int32.String())
	require.Equal(t, "Int64", idgen.Int64.String())
	require.Equal(t, "String", idgen.String.String())
}
