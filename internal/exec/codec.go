package exec

import (
	"encoding/binary"
	"math"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
)

// EncodeRow serializes a tuple's values into the byte image the B+-tree
// stores as a leaf slot's value, in schema column order: fixed 8 bytes per
// numeric column, a u16 length prefix + bytes per string column, plus one
// leading null-bitmap byte per 8 columns.
func EncodeRow(schema plan.OutputSchema, row Tuple) []byte {
	nullBytes := (len(schema.Columns) + 7) / 8
	buf := make([]byte, nullBytes)
	for i, v := range row {
		if v.Null {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	for i, col := range schema.Columns {
		v := row[i]
		if v.Null {
			continue
		}
		switch col.Type {
		case catalog.TypeVarchar, catalog.TypeChar:
			lenBuf := make([]byte, 2)
			binary.BigEndian.PutUint16(lenBuf, uint16(len(v.String)))
			buf = append(buf, lenBuf...)
			buf = append(buf, v.String...)
		case catalog.TypeFloat64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float))
			buf = append(buf, b[:]...)
		default: // INT32, INT64
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Int))
			buf = append(buf, b[:]...)
		}
	}
	return buf
}

// DecodeRow parses a byte image produced by EncodeRow back into a Tuple
// matching schema.
func DecodeRow(schema plan.OutputSchema, buf []byte) (Tuple, error) {
	nullBytes := (len(schema.Columns) + 7) / 8
	if len(buf) < nullBytes {
		return nil, dberrors.Wrap(dberrors.IoError, "exec: row image too short for null bitmap")
	}
	nullBitmap := buf[:nullBytes]
	pos := nullBytes
	row := make(Tuple, len(schema.Columns))
	for i, col := range schema.Columns {
		isNull := nullBitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			row[i] = plan.Value{Type: col.Type, Null: true}
			continue
		}
		switch col.Type {
		case catalog.TypeVarchar, catalog.TypeChar:
			if pos+2 > len(buf) {
				return nil, dberrors.Wrap(dberrors.IoError, "exec: truncated string length at column %d", i)
			}
			n := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
			pos += 2
			if pos+n > len(buf) {
				return nil, dberrors.Wrap(dberrors.IoError, "exec: truncated string body at column %d", i)
			}
			row[i] = plan.Value{Type: col.Type, String: string(buf[pos : pos+n])}
			pos += n
		case catalog.TypeFloat64:
			if pos+8 > len(buf) {
				return nil, dberrors.Wrap(dberrors.IoError, "exec: truncated float at column %d", i)
			}
			row[i] = plan.Value{Type: col.Type, Float: math.Float64frombits(binary.BigEndian.Uint64(buf[pos : pos+8]))}
			pos += 8
		default:
			if pos+8 > len(buf) {
				return nil, dberrors.Wrap(dberrors.IoError, "exec: truncated int at column %d", i)
			}
			row[i] = plan.Value{Type: col.Type, Int: int64(binary.BigEndian.Uint64(buf[pos : pos+8]))}
			pos += 8
		}
	}
	return row, nil
}
