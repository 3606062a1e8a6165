// Package arrowschema converts the base64 Arrow IPC schema payloads sent by
// the backend into plain column lists.
package arrowschema

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const allocSlack = 128

var errOversized = errors.New("payload declares a message larger than itself")

// boundedAllocator refuses any buffer bigger than the payload being read
// (plus room for 64 byte rounding), so a corrupted length prefix cannot make
// the reader allocate gigabytes.
type boundedAllocator struct {
	memory.Allocator
	limit int
}

func (a *boundedAllocator) Allocate(size int) []byte {
	if size < 0 || size > a.limit {
		panic(errOversized)
	}
	return a.Allocator.Allocate(size)
}

func (a *boundedAllocator) Reallocate(size int, b []byte) []byte {
	if size < 0 || size > a.limit {
		panic(errOversized)
	}
	return a.Allocator.Reallocate(size, b)
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode schema: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode returns the columns described by encoded. A nil payload means the
// task has no schema yet and yields a nil slice.
func Decode(encoded *string) (columns []Column, err error) {
	if encoded == nil {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*encoded))
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("base64: %w", err)}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty payload")}
	}

	defer func() {
		if r := recover(); r != nil {
			columns = nil
			if rerr, ok := r.(error); ok {
				err = &DecodeError{Err: rerr}
				return
			}
			err = &DecodeError{Err: fmt.Errorf("%v", r)}
		}
	}()

	alloc := &boundedAllocator{Allocator: memory.NewGoAllocator(), limit: len(raw) + allocSlack}
	reader, err := ipc.NewReader(bytes.NewReader(raw), ipc.WithAllocator(alloc))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	defer reader.Release()

	schema := reader.Schema()
	if schema == nil {
		return nil, &DecodeError{Err: fmt.Errorf("missing schema message")}
	}

	return fromSchema(schema), nil
}

// ReadFile returns the columns of an Arrow IPC file on disk.
func ReadFile(path string) ([]Column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewFileReader(f)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	defer reader.Close()
	return fromSchema(reader.Schema()), nil
}

func fromSchema(schema *arrow.Schema) []Column {
	columns := make([]Column, 0, schema.NumFields())
	for _, field := range schema.Fields() {
		columns = append(columns, Column{Name: field.Name, Type: field.Type.String()})
	}
	return columns
}

// Encode serializes columns into a schema-only Arrow IPC stream, base64
// encoded the same way the backend sends it.
func Encode(columns []Column) (string, error) {
	fields := make([]arrow.Field, 0, len(columns))
	for _, column := range columns {
		dataType, err := typeByName(column.Type)
		if err != nil {
			return "", err
		}
		fields = append(fields, arrow.Field{Name: column.Name, Type: dataType, Nullable: true})
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(arrow.NewSchema(fields, nil)))
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("write schema: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var typesByName = map[string]arrow.DataType{
	"null":         arrow.Null,
	"bool":         arrow.FixedWidthTypes.Boolean,
	"int8":         arrow.PrimitiveTypes.Int8,
	"int16":        arrow.PrimitiveTypes.Int16,
	"int32":        arrow.PrimitiveTypes.Int32,
	"int64":        arrow.PrimitiveTypes.Int64,
	"uint8":        arrow.PrimitiveTypes.Uint8,
	"uint16":       arrow.PrimitiveTypes.Uint16,
	"uint32":       arrow.PrimitiveTypes.Uint32,
	"uint64":       arrow.PrimitiveTypes.Uint64,
	"float32":      arrow.PrimitiveTypes.Float32,
	"float64":      arrow.PrimitiveTypes.Float64,
	"utf8":         arrow.BinaryTypes.String,
	"large_utf8":   arrow.BinaryTypes.LargeString,
	"binary":       arrow.BinaryTypes.Binary,
	"large_binary": arrow.BinaryTypes.LargeBinary,
	"date32":       arrow.FixedWidthTypes.Date32,
	"date64":       arrow.FixedWidthTypes.Date64,
}

func typeByName(name string) (arrow.DataType, error) {
	dataType, ok := typesByName[name]
	if !ok {
		return nil, fmt.Errorf("unsupported arrow type: %q", name)
	}
	return dataType, nil
}
