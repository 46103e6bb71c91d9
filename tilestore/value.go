package tilestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/hupe1980/tilecache/codec"
	"github.com/hupe1980/tilecache/model"
)

// pageRecord is the on-page form of a record. Attribute values carry a type
// tag so a tile read back from a page equals the tile that was written.
type pageRecord struct {
	ID       model.RecordID       `json:"id"`
	Envelope model.Envelope       `json:"env"`
	Attrs    map[string]pageValue `json:"attrs"`
}

// pageValue is a tagged attribute value. Scalars are kept in S in their
// strconv form, lists in L and maps in M. Values of any other type are
// encoded with the page codec and decode to whatever the codec produces.
type pageValue struct {
	T string               `json:"t"`
	S string               `json:"s,omitempty"`
	L []pageValue          `json:"l,omitempty"`
	M map[string]pageValue `json:"m,omitempty"`
}

const nilMarker = "null"

func toPageRecords(c codec.Codec, recs []model.Record) ([]pageRecord, error) {
	if recs == nil {
		return nil, nil
	}
	out := make([]pageRecord, len(recs))
	for i, r := range recs {
		out[i] = pageRecord{ID: r.ID, Envelope: r.Envelope}
		if r.Attributes == nil {
			continue
		}
		out[i].Attrs = make(map[string]pageValue, len(r.Attributes))
		for k, v := range r.Attributes {
			pv, err := encodeValue(c, v)
			if err != nil {
				return nil, fmt.Errorf("record %s attribute %q: %w", r.ID, k, err)
			}
			out[i].Attrs[k] = pv
		}
	}
	return out, nil
}

func fromPageRecords(c codec.Codec, prs []pageRecord) ([]model.Record, error) {
	if prs == nil {
		return nil, nil
	}
	out := make([]model.Record, len(prs))
	for i, pr := range prs {
		out[i] = model.Record{ID: pr.ID, Envelope: pr.Envelope}
		if pr.Attrs == nil {
			continue
		}
		out[i].Attributes = make(map[string]any, len(pr.Attrs))
		for k, pv := range pr.Attrs {
			v, err := decodeValue(c, pv)
			if err != nil {
				return nil, fmt.Errorf("record %s attribute %q: %w", pr.ID, k, err)
			}
			out[i].Attributes[k] = v
		}
	}
	return out, nil
}

func encodeValue(c codec.Codec, v any) (pageValue, error) {
	switch x := v.(type) {
	case nil:
		return pageValue{T: "nil"}, nil
	case bool:
		return pageValue{T: "bool", S: strconv.FormatBool(x)}, nil
	case string:
		return pageValue{T: "string", S: x}, nil
	case int:
		return pageValue{T: "int", S: strconv.FormatInt(int64(x), 10)}, nil
	case int8:
		return pageValue{T: "int8", S: strconv.FormatInt(int64(x), 10)}, nil
	case int16:
		return pageValue{T: "int16", S: strconv.FormatInt(int64(x), 10)}, nil
	case int32:
		return pageValue{T: "int32", S: strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return pageValue{T: "int64", S: strconv.FormatInt(x, 10)}, nil
	case uint:
		return pageValue{T: "uint", S: strconv.FormatUint(uint64(x), 10)}, nil
	case uint8:
		return pageValue{T: "uint8", S: strconv.FormatUint(uint64(x), 10)}, nil
	case uint16:
		return pageValue{T: "uint16", S: strconv.FormatUint(uint64(x), 10)}, nil
	case uint32:
		return pageValue{T: "uint32", S: strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return pageValue{T: "uint64", S: strconv.FormatUint(x, 10)}, nil
	case float32:
		return pageValue{T: "float32", S: strconv.FormatFloat(float64(x), 'g', -1, 32)}, nil
	case float64:
		return pageValue{T: "float64", S: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case []byte:
		if x == nil {
			return pageValue{T: "bytes", S: nilMarker}, nil
		}
		return pageValue{T: "bytes", S: "b" + base64.StdEncoding.EncodeToString(x)}, nil
	case []any:
		if x == nil {
			return pageValue{T: "list", S: nilMarker}, nil
		}
		l := make([]pageValue, len(x))
		for i, e := range x {
			pv, err := encodeValue(c, e)
			if err != nil {
				return pageValue{}, err
			}
			l[i] = pv
		}
		return pageValue{T: "list", L: l}, nil
	case map[string]any:
		if x == nil {
			return pageValue{T: "map", S: nilMarker}, nil
		}
		m := make(map[string]pageValue, len(x))
		for k, e := range x {
			pv, err := encodeValue(c, e)
			if err != nil {
				return pageValue{}, err
			}
			m[k] = pv
		}
		return pageValue{T: "map", M: m}, nil
	default:
		data, err := c.Marshal(v)
		if err != nil {
			return pageValue{}, err
		}
		return pageValue{T: "raw", S: string(data)}, nil
	}
}

func decodeValue(c codec.Codec, pv pageValue) (any, error) {
	switch pv.T {
	case "nil":
		return nil, nil
	case "bool":
		return strconv.ParseBool(pv.S)
	case "string":
		return pv.S, nil
	case "int":
		n, err := strconv.ParseInt(pv.S, 10, strconv.IntSize)
		return int(n), err
	case "int8":
		n, err := strconv.ParseInt(pv.S, 10, 8)
		return int8(n), err
	case "int16":
		n, err := strconv.ParseInt(pv.S, 10, 16)
		return int16(n), err
	case "int32":
		n, err := strconv.ParseInt(pv.S, 10, 32)
		return int32(n), err
	case "int64":
		return strconv.ParseInt(pv.S, 10, 64)
	case "uint":
		n, err := strconv.ParseUint(pv.S, 10, strconv.IntSize)
		return uint(n), err
	case "uint8":
		n, err := strconv.ParseUint(pv.S, 10, 8)
		return uint8(n), err
	case "uint16":
		n, err := strconv.ParseUint(pv.S, 10, 16)
		return uint16(n), err
	case "uint32":
		n, err := strconv.ParseUint(pv.S, 10, 32)
		return uint32(n), err
	case "uint64":
		return strconv.ParseUint(pv.S, 10, 64)
	case "float32":
		f, err := strconv.ParseFloat(pv.S, 32)
		return float32(f), err
	case "float64":
		return strconv.ParseFloat(pv.S, 64)
	case "bytes":
		if pv.S == nilMarker {
			return []byte(nil), nil
		}
		if len(pv.S) == 0 || pv.S[0] != 'b' {
			return nil, errors.New("malformed bytes value")
		}
		return base64.StdEncoding.DecodeString(pv.S[1:])
	case "list":
		if pv.S == nilMarker {
			return []any(nil), nil
		}
		l := make([]any, len(pv.L))
		for i, e := range pv.L {
			v, err := decodeValue(c, e)
			if err != nil {
				return nil, err
			}
			l[i] = v
		}
		return l, nil
	case "map":
		if pv.S == nilMarker {
			return map[string]any(nil), nil
		}
		m := make(map[string]any, len(pv.M))
		for k, e := range pv.M {
			v, err := decodeValue(c, e)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case "raw":
		var v any
		if err := c.Unmarshal([]byte(pv.S), &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", pv.T)
	}
}
