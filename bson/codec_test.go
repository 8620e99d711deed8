package bson_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/bson"
)

func sampleDocument(t *testing.T) *bson.Document {
	t.Helper()
	dec, err := bson.Decimal128FromString("12345.6789")
	require.NoError(t, err)

	inner := bson.NewDocument().
		Set("street", bson.String("1 Infinite Loop")).
		Set("zip", bson.Int32(95014))

	return bson.NewDocument().
		Set("_id", bson.ObjectIDValue(bson.NewObjectID())).
		Set("_collection", bson.String("users")).
		Set("name", bson.String("Alice")).
		Set("age", bson.Int32(30)).
		Set("balance", bson.Double(12.5)).
		Set("price", bson.DecimalValue(dec)).
		Set("active", bson.Bool(true)).
		Set("joined", bson.DateTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))).
		Set("tags", bson.Array([]bson.Value{bson.String("a"), bson.String("b")})).
		Set("address", bson.DocumentValue(inner)).
		Set("nothing", bson.Null()).
		Set("blob", bson.BinaryValue(bson.Binary{Subtype: bson.SubtypeUUID, Data: []byte{1, 2, 3, 4}}))
}

func TestRoundTrip(t *testing.T) {
	d := sampleDocument(t)

	encoded, err := bson.Encode(d)
	require.NoError(t, err)
	require.Equal(t, bson.Size(d), len(encoded))

	decoded, n, err := bson.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.True(t, d.Equal(decoded), "round-tripped document must equal the original")
}

func TestSizeIsAdditiveAndMatchesEncodedLength(t *testing.T) {
	d := bson.NewDocument().Set("a", bson.Int32(1)).Set("b", bson.String("hello"))
	enc, err := bson.Encode(d)
	require.NoError(t, err)
	require.Equal(t, bson.Size(d), len(enc))
}

func TestDecodeRejectsBadSentinel(t *testing.T) {
	d := bson.NewDocument().Set("a", bson.Int32(1))
	enc, err := bson.Encode(d)
	require.NoError(t, err)
	enc[len(enc)-1] = 0xFF

	_, _, err = bson.Decode(enc)
	require.ErrorIs(t, err, bson.ErrMalformed)
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	d := bson.NewDocument().Set("a", bson.Int32(1))
	enc, err := bson.Encode(d)
	require.NoError(t, err)
	enc[4] = 0xEE // overwrite the type tag of the first element

	_, _, err = bson.Decode(enc)
	require.ErrorIs(t, err, bson.ErrMalformed)
}

func TestDecodeRejectsTruncatedLengthPrefix(t *testing.T) {
	_, _, err := bson.Decode([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0x00})
	require.ErrorIs(t, err, bson.ErrMalformed)
}

func TestArrayRoundTrip(t *testing.T) {
	d := bson.NewDocument().Set("items", bson.Array([]bson.Value{
		bson.Int32(1), bson.Int32(2), bson.Int32(3),
	}))
	enc, err := bson.Encode(d)
	require.NoError(t, err)
	decoded, _, err := bson.Decode(enc)
	require.NoError(t, err)
	arr, ok := func() ([]bson.Value, bool) {
		v, _ := decoded.Get("items")
		return v.AsArray()
	}()
	require.True(t, ok)
	require.Len(t, arr, 3)
}

func TestDecimal128PrecisionOverflowIsInvalidArgument(t *testing.T) {
	huge := "1" // build 10^40 (a 41-digit literal), beyond this codec's 104-bit coefficient cap
	for i := 0; i < 40; i++ {
		huge += "0"
	}
	_, err := bson.Decimal128FromString(huge)
	require.ErrorIs(t, err, bson.ErrInvalidArgument)
}

func TestValueCompareCrossTypeNumeric(t *testing.T) {
	require.Equal(t, 0, bson.Compare(bson.Int32(5), bson.Double(5.0)))
	require.Equal(t, -1, bson.Compare(bson.Int32(1), bson.Int64(2)))
	require.Equal(t, 1, bson.Compare(bson.Double(3.5), bson.Int32(3)))
}

func TestValueCompareTypeRank(t *testing.T) {
	require.Equal(t, -1, bson.Compare(bson.Null(), bson.String("x")))
	require.Equal(t, -1, bson.Compare(bson.String("x"), bson.Bool(true)))
	require.Equal(t, -1, bson.Compare(bson.MinKey(), bson.Null()))
	require.Equal(t, 1, bson.Compare(bson.MaxKey(), bson.Bool(true)))
}

func TestDocumentGetPath(t *testing.T) {
	d := sampleDocument(t)
	v, ok := d.GetPath("address.zip")
	require.True(t, ok)
	n, _ := v.AsInt32()
	require.Equal(t, int32(95014), n)

	_, ok = d.GetPath("address.country")
	require.False(t, ok)
}
