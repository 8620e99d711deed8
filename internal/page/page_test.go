package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/internal/page"
)

func TestPageEncodeDecodeRoundTrip(t *testing.T) {
	p := page.New(7, page.TypeData, 4096)
	copy(p.Payload, []byte("hello world"))
	p.ItemCount = 1
	p.FreeBytes = uint16(len(p.Payload) - len("hello world"))
	p.Prev = 6
	p.Next = 8

	buf := p.Encode(4096)
	got, err := page.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Type, got.Type)
	require.Equal(t, p.Prev, got.Prev)
	require.Equal(t, p.Next, got.Next)
	require.Equal(t, p.Payload, got.Payload)
}

func TestPageDecodeDetectsCorruption(t *testing.T) {
	p := page.New(1, page.TypeData, 4096)
	buf := p.Encode(4096)
	buf[100] ^= 0xFF

	_, err := page.Decode(buf)
	require.ErrorIs(t, err, page.ErrCorrupt)
}

func TestValidPageSize(t *testing.T) {
	require.True(t, page.ValidPageSize(4096))
	require.True(t, page.ValidPageSize(65536))
	require.False(t, page.ValidPageSize(4097))
	require.False(t, page.ValidPageSize(2048))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &page.DatabaseHeader{
		Magic:             page.HeaderMagic,
		VersionMajor:      1,
		PageSize:          4096,
		TotalPages:        10,
		UsedPages:         4,
		FirstFreePage:     0,
		CatalogPage:       2,
		IndexPage:         3,
		JournalPage:       4,
		CreatedAtTicks:    1000,
		ModifiedAtTicks:   2000,
		JournalingEnabled: true,
		DatabaseName:      "mydb",
	}
	buf := page.EncodeHeader(h)
	got, err := page.DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h.TotalPages, got.TotalPages)
	require.Equal(t, h.DatabaseName, got.DatabaseName)
	require.True(t, got.JournalingEnabled)
}

func TestHeaderValidateRejectsUsedGreaterThanTotal(t *testing.T) {
	h := &page.DatabaseHeader{Magic: page.HeaderMagic, TotalPages: 2, UsedPages: 5}
	require.Error(t, h.Validate())
}
