package arrowschema

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

func TestDecodeNil(t *testing.T) {
	columns, err := Decode(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if columns != nil {
		t.Fatalf("expected nil columns, got %v", columns)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := []Column{{Name: "text", Type: "utf8"}, {Name: "id", Type: "int64"}}
	encoded, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(&encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	again, err := Decode(&encoded)
	if err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Fatalf("expected deterministic output, got %v then %v", got, again)
	}
}

func TestEncodeEmptySchema(t *testing.T) {
	encoded, err := Encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no columns, got %v", got)
	}
}

func TestEncodeUnknownType(t *testing.T) {
	if _, err := Encode([]Column{{Name: "x", Type: "tensor"}}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":       "%%%not-base64%%%",
		"empty":            "",
		"garbage":          "aGVsbG8gd29ybGQ=",
		"oversized length": "/////3AAAAAQAAAAAAD1AAwACgAJAAQACgAAABAAAAAAAQQACAAIAAAABAAIAAAABAAAAAEAAAAUAAAAEAAUABAADwAOAAgAAAAEABAAAAAQAAAAFAAAAAAABQEQAAAAAAAAAAQABAAEAAAABAAAAHRleHQAAAAA/////wAAAAA=",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			encoded := input
			_, err := Decode(&encoded)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestDecodeCorruptedBytes(t *testing.T) {
	encoded, err := Encode([]Column{{Name: "text", Type: "utf8"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	for _, offset := range []int{14, 15, 55, 99} {
		if offset >= len(raw) {
			continue
		}
		corrupted := append([]byte(nil), raw...)
		corrupted[offset] ^= 0xff
		payload := base64.StdEncoding.EncodeToString(corrupted)
		columns, err := Decode(&payload)
		if err == nil {
			// a flip can land in padding and leave the schema readable
			continue
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("offset %d: expected DecodeError, got %v", offset, err)
		}
		if columns != nil {
			t.Fatalf("offset %d: expected no columns on error, got %v", offset, columns)
		}
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.arrow")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []Column{{Name: "text", Type: "utf8"}, {Name: "score", Type: "float64"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
