// Package jsoncodec encodes JSON payloads, HTTP bodies and journal records
// with sonic.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Decoded strings never alias the input: message payloads are recycled
// once their buffer is freed. Map keys are sorted so stats and config bodies
// are stable.
var api = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// Encode writes v followed by a newline, one record per line.
func Encode(w io.Writer, v any) error { return api.NewEncoder(w).Encode(v) }

// Decode reads the next value from r.
func Decode(r io.Reader, v any) error { return api.NewDecoder(r).Decode(v) }
