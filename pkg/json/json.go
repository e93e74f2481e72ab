// Package json is the JSON codec used on the eLabFTW wire, backed by
// goccy/go-json with pooled buffers for request bodies.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// maxPooledBuffer keeps oversized buffers out of the pool.
const maxPooledBuffer = 1024 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalToBuffer marshals v to a pooled buffer. The caller returns it
// with PutBuffer once the bytes are no longer referenced.
func MarshalToBuffer(v interface{}) (*bytes.Buffer, error) {
	buf := GetBuffer()
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		PutBuffer(buf)
		return nil, err
	}
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
	return buf, nil
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v interface{}) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Decode reads one JSON value from r into v.
func Decode(r io.Reader, v interface{}) error {
	return gojson.NewDecoder(r).Decode(v)
}

// EncodeIndent writes v to w indented for humans, HTML left unescaped.
func EncodeIndent(w io.Writer, v interface{}, indent string) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	return enc.Encode(v)
}
