package lidar

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
)

// column is one entry of a fixed layer schema.
type column struct {
	name string
	typ  flattypes.ColumnType
}

const (
	columnElevation = "elevation"
	columnFilename  = "filename"
	columnYear      = "year"
)

var (
	cloudSchema = []column{
		{columnElevation, flattypes.ColumnTypeDouble},
	}
	catalogSchema = []column{
		{columnFilename, flattypes.ColumnTypeString},
		{columnYear, flattypes.ColumnTypeInt},
	}
)

// buildColumns creates the header columns for a schema.
func buildColumns(schema []column, builder *flatbuffers.Builder) []*writer.Column {
	columns := make([]*writer.Column, 0, len(schema))
	for _, c := range schema {
		col := writer.NewColumn(builder)
		col.SetName(c.name)
		col.SetTitle(c.name) // Set title to match name for JS library compatibility
		col.SetType(c.typ)
		col.SetNullable(false)
		columns = append(columns, col)
	}
	return columns
}

// encodeProperties encodes one value per schema column.
// The format is: [2-byte column index][value bytes]... repeated per column.
func encodeProperties(schema []column, values ...interface{}) []byte {
	var buf bytes.Buffer

	for i, c := range schema {
		if i >= len(values) || values[i] == nil {
			continue
		}

		var idx [2]byte
		binary.LittleEndian.PutUint16(idx[:], uint16(i))
		buf.Write(idx[:])

		writePropertyValue(&buf, c.typ, values[i])
	}

	return buf.Bytes()
}

// writePropertyValue writes a single value in the column's encoding.
func writePropertyValue(buf *bytes.Buffer, colType flattypes.ColumnType, value interface{}) {
	switch colType {
	case flattypes.ColumnTypeInt:
		v, _ := toInt64(value)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		buf.Write(b[:])

	case flattypes.ColumnTypeDouble:
		v, _ := toFloat64(value)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])

	case flattypes.ColumnTypeString:
		s, _ := value.(string)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
		buf.Write(b[:])
		buf.WriteString(s)
	}
}

// decodeProperties decodes a feature's property buffer into values keyed by
// column name. Decoding stops at the first malformed entry.
func decodeProperties(data []byte, header *flattypes.Header) map[string]interface{} {
	if len(data) == 0 || header == nil {
		return nil
	}

	props := make(map[string]interface{})
	offset := 0

	for offset+2 <= len(data) {
		colIndex := binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2

		if int(colIndex) >= header.ColumnsLength() {
			break
		}

		var col flattypes.Column
		if !header.Columns(&col, int(colIndex)) {
			break
		}

		value, bytesRead := readPropertyValue(data[offset:], col.Type())
		if bytesRead == 0 {
			break
		}
		offset += bytesRead

		props[string(col.Name())] = value
	}

	return props
}

// readPropertyValue reads a property value from the buffer.
// Returns the value and number of bytes read.
func readPropertyValue(data []byte, colType flattypes.ColumnType) (interface{}, int) {
	switch colType {
	case flattypes.ColumnTypeBool, flattypes.ColumnTypeUByte:
		if len(data) < 1 {
			return nil, 0
		}
		return int64(data[0]), 1

	case flattypes.ColumnTypeByte:
		if len(data) < 1 {
			return nil, 0
		}
		return int64(int8(data[0])), 1

	case flattypes.ColumnTypeShort:
		if len(data) < 2 {
			return nil, 0
		}
		return int64(int16(binary.LittleEndian.Uint16(data[:2]))), 2

	case flattypes.ColumnTypeUShort:
		if len(data) < 2 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint16(data[:2])), 2

	case flattypes.ColumnTypeInt:
		if len(data) < 4 {
			return nil, 0
		}
		return int64(int32(binary.LittleEndian.Uint32(data[:4]))), 4

	case flattypes.ColumnTypeUInt:
		if len(data) < 4 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint32(data[:4])), 4

	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		if len(data) < 8 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint64(data[:8])), 8

	case flattypes.ColumnTypeFloat:
		if len(data) < 4 {
			return nil, 0
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))), 4

	case flattypes.ColumnTypeDouble:
		if len(data) < 8 {
			return nil, 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), 8

	case flattypes.ColumnTypeString, flattypes.ColumnTypeJson, flattypes.ColumnTypeDateTime, flattypes.ColumnTypeBinary:
		if len(data) < 4 {
			return nil, 0
		}
		length := int(binary.LittleEndian.Uint32(data[:4]))
		if len(data) < 4+length {
			return nil, 0
		}
		return string(data[4 : 4+length]), 4 + length

	default:
		return nil, 0
	}
}

// Type conversion helpers

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
