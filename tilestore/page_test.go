package tilestore

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hupe1980/tilecache/codec"
	"github.com/hupe1980/tilecache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTile(n int) Tile {
	t := Tile{
		ID:       model.TileID{Level: 0, Col: 3, Row: 7},
		Envelope: model.NewEnvelope(30, 70, 40, 80),
	}
	for i := range n {
		t.Records = append(t.Records, model.NewRecord(
			model.RecordID(fmt.Sprintf("r%03d", i)),
			model.NewEnvelope(31, 71, 32, 72),
		).With("name", strings.Repeat("road ", 8)).With("lanes", i).Build())
	}
	return t
}

func TestPageCodec_Compression(t *testing.T) {
	tests := []struct {
		name string
		pc   PageCodec
	}{
		{"none-json", PageCodec{Codec: codec.JSON{}, Compression: CompressionNone}},
		{"lz4-gojson", PageCodec{Codec: codec.GoJSON{}, Compression: CompressionLZ4}},
		{"zstd-gojson", PageCodec{Codec: codec.GoJSON{}, Compression: CompressionZSTD}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := sampleTile(50)
			page, err := tt.pc.Encode(tile)
			require.NoError(t, err)

			// Decode needs no configuration: the page describes itself.
			got, err := PageCodec{}.Decode(page)
			require.NoError(t, err)
			assert.Equal(t, tile.ID, got.ID)
			assert.Equal(t, tile.Envelope, got.Envelope)
			require.Len(t, got.Records, 50)
			assert.Equal(t, model.RecordID("r049"), got.Records[49].ID)
			assert.Equal(t, tile, got)
		})
	}
}

func TestPageCodec_CompressionShrinksRepetitivePages(t *testing.T) {
	tile := sampleTile(200)
	raw, err := PageCodec{Compression: CompressionNone}.Encode(tile)
	require.NoError(t, err)
	z, err := PageCodec{Compression: CompressionZSTD}.Encode(tile)
	require.NoError(t, err)
	assert.Less(t, len(z), len(raw))
}

func TestPageCodec_Corruption(t *testing.T) {
	page, err := PageCodec{Compression: CompressionLZ4}.Encode(sampleTile(10))
	require.NoError(t, err)

	t.Run("FlippedByte", func(t *testing.T) {
		bad := append([]byte(nil), page...)
		bad[len(bad)/2] ^= 0xFF
		_, err := PageCodec{}.Decode(bad)
		assert.ErrorIs(t, err, ErrCorruptPage)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := PageCodec{}.Decode(page[:5])
		assert.ErrorIs(t, err, ErrCorruptPage)
	})

	t.Run("EmptyTile", func(t *testing.T) {
		p, err := PageCodec{}.Encode(Tile{ID: model.TileID{Col: 1}})
		require.NoError(t, err)
		got, err := PageCodec{}.Decode(p)
		require.NoError(t, err)
		assert.Empty(t, got.Records)
	})
}

type renamedCodec struct{ codec.GoJSON }

func (renamedCodec) Name() string { return "renamed" }

func TestPageCodec_CustomCodec(t *testing.T) {
	pc := PageCodec{Codec: renamedCodec{}, Compression: CompressionLZ4}
	tile := sampleTile(5)

	page, err := pc.Encode(tile)
	require.NoError(t, err)

	got, err := pc.Decode(page)
	require.NoError(t, err)
	assert.Equal(t, tile, got)

	// Without the codec the page cannot be read.
	_, err = PageCodec{}.Decode(page)
	assert.ErrorIs(t, err, ErrCorruptPage)
}

func TestPageCodec_AttributeTypes(t *testing.T) {
	attrs := map[string]any{
		"nil":     nil,
		"bool":    true,
		"string":  "",
		"int":     7,
		"int8":    int8(-8),
		"int16":   int16(1600),
		"int32":   int32(-32),
		"int64":   int64(1)<<60 + 1,
		"uint":    uint(9),
		"uint8":   uint8(255),
		"uint16":  uint16(65535),
		"uint32":  uint32(1) << 31,
		"uint64":  uint64(1)<<63 + 3,
		"float32": float32(0.1),
		"float64": 0.1 + 0.2,
		"bytes":   []byte{0, 1, 2},
		"empty":   []byte{},
		"list":    []any{1, "two", 3.5, []any{int64(4)}},
		"map":     map[string]any{"lanes": 2, "tags": []any{"a"}, "none": map[string]any(nil)},
	}
	tile := Tile{
		ID:       model.TileID{Col: 1, Row: 2},
		Envelope: model.NewEnvelope(0, 0, 10, 10),
		Records: []model.Record{
			{ID: "typed", Envelope: model.NewEnvelope(1, 1, 2, 2), Attributes: attrs},
			{ID: "bare", Envelope: model.NewEnvelope(3, 3, 4, 4)},
		},
	}

	for _, c := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			pc := PageCodec{Codec: c, Compression: CompressionZSTD}
			page, err := pc.Encode(tile)
			require.NoError(t, err)

			got, err := pc.Decode(page)
			require.NoError(t, err)
			assert.Equal(t, tile, got)
			assert.IsType(t, 0, got.Records[0].Attributes["int"])
			assert.Nil(t, got.Records[1].Attributes)
		})
	}
}

func TestPageCodec_UnknownAttributeTypeUsesCodec(t *testing.T) {
	type point struct {
		X, Y int
	}
	tile := Tile{Records: []model.Record{{
		ID:         "p",
		Attributes: map[string]any{"at": point{X: 1, Y: 2}},
	}}}

	page, err := PageCodec{}.Encode(tile)
	require.NoError(t, err)
	got, err := PageCodec{}.Decode(page)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"X": 1.0, "Y": 2.0}, got.Records[0].Attributes["at"])
}
