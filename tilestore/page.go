package tilestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/tilecache/codec"
	"github.com/hupe1980/tilecache/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the page compression algorithm.
type Compression uint8

const (
	// CompressionNone stores pages uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD Compression = 2
)

// String returns the algorithm name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const (
	pageMagic   uint32 = 0x54435047 // "TCPG"
	pageVersion uint8  = 2

	blockHeaderSize = 8
	checksumSize    = 8
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

type pageBody struct {
	Level    uint8          `json:"l"`
	Col      uint32         `json:"c"`
	Row      uint32         `json:"r"`
	Envelope model.Envelope `json:"env"`
	Records  []pageRecord   `json:"recs"`
}

// PageCodec turns tiles into pages and back.
type PageCodec struct {
	Codec       codec.Codec
	Compression Compression
}

// Encode serializes a tile into a page.
//
// Layout: [magic u32][version u8][compression u8][nameLen u8][name]
// [uncompressed u32][stored u32, 0 = raw][data][xxhash64 of all preceding bytes].
func (pc PageCodec) Encode(t Tile) ([]byte, error) {
	c := pc.Codec
	if c == nil {
		c = codec.Default
	}
	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("codec name too long: %q", name)
	}

	recs, err := toPageRecords(c, t.Records)
	if err != nil {
		return nil, fmt.Errorf("encode tile %s: %w", t.ID, err)
	}
	raw, err := c.Marshal(pageBody{
		Level:    t.ID.Level,
		Col:      t.ID.Col,
		Row:      t.ID.Row,
		Envelope: t.Envelope,
		Records:  recs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tile %s: %w", t.ID, err)
	}

	compressed, err := compress(raw, pc.Compression)
	if err != nil {
		return nil, fmt.Errorf("compress tile %s: %w", t.ID, err)
	}

	headerSize := 7 + len(name)
	page := make([]byte, headerSize, headerSize+blockHeaderSize+len(raw)+checksumSize)
	binary.LittleEndian.PutUint32(page[0:], pageMagic)
	page[4] = pageVersion
	page[5] = byte(pc.Compression)
	page[6] = byte(len(name))
	copy(page[7:], name)

	var block [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(block[0:], uint32(len(raw)))
	if compressed == nil {
		page = append(page, block[:]...)
		page = append(page, raw...)
	} else {
		binary.LittleEndian.PutUint32(block[4:], uint32(len(compressed)))
		page = append(page, block[:]...)
		page = append(page, compressed...)
	}

	return binary.LittleEndian.AppendUint64(page, xxhash.Sum64(page)), nil
}

// Decode parses and verifies a page.
//
// The page is decoded with pc.Codec when the page names it, otherwise with
// the built-in codec of that name.
func (pc PageCodec) Decode(page []byte) (Tile, error) {
	if len(page) < 7+blockHeaderSize+checksumSize {
		return Tile{}, corrupt("page too small")
	}

	body, sum := page[:len(page)-checksumSize], page[len(page)-checksumSize:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return Tile{}, corrupt("checksum mismatch")
	}
	if binary.LittleEndian.Uint32(body[0:]) != pageMagic {
		return Tile{}, corrupt("bad magic")
	}
	if body[4] != pageVersion {
		return Tile{}, corrupt(fmt.Sprintf("unsupported version %d", body[4]))
	}
	comp := Compression(body[5])
	nameLen := int(body[6])
	if len(body) < 7+nameLen+blockHeaderSize {
		return Tile{}, corrupt("truncated header")
	}
	name := string(body[7 : 7+nameLen])

	c := pc.Codec
	if c == nil || c.Name() != name {
		var ok bool
		if c, ok = codec.ByName(name); !ok {
			return Tile{}, corrupt(fmt.Sprintf("unknown codec %q", name))
		}
	}

	raw, err := decompress(body[7+nameLen:], comp)
	if err != nil {
		return Tile{}, corrupt(err.Error())
	}

	var pb pageBody
	if err := c.Unmarshal(raw, &pb); err != nil {
		return Tile{}, corrupt(err.Error())
	}
	recs, err := fromPageRecords(c, pb.Records)
	if err != nil {
		return Tile{}, corrupt(err.Error())
	}

	return Tile{
		ID:       model.TileID{Level: pb.Level, Col: pb.Col, Row: pb.Row},
		Envelope: pb.Envelope,
		Records:  recs,
	}, nil
}

func corrupt(msg string) error {
	return fmt.Errorf("%w: %s", ErrCorruptPage, msg)
}

// compress returns nil when the data should be stored raw.
func compress(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone || len(data) == 0 {
		return nil, nil
	}

	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression %s", c)
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return nil, nil
	}
	return compressed, nil
}

func decompress(block []byte, c Compression) ([]byte, error) {
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	storedSize := binary.LittleEndian.Uint32(block[4:])
	data := block[blockHeaderSize:]

	if storedSize == 0 {
		if uint32(len(data)) != uncompressedSize {
			return nil, errors.New("raw block size mismatch")
		}
		return data, nil
	}
	if uint32(len(data)) != storedSize {
		return nil, errors.New("compressed block size mismatch")
	}

	result := make([]byte, uncompressedSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(data, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return result, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(data, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown compression %s", c)
	}
}
