package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type patch struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

func TestMarshalToBuffer(t *testing.T) {
	buf, err := MarshalToBuffer(patch{Body: "<b>5 mK</b>"})
	require.NoError(t, err)
	defer PutBuffer(buf)

	assert.Equal(t, `{"body":"<b>5 mK</b>"}`, buf.String())
}

func TestDecode(t *testing.T) {
	var p patch
	require.NoError(t, Decode(strings.NewReader(`{"title":"Run 1","extra":3}`), &p))
	assert.Equal(t, "Run 1", p.Title)

	assert.Error(t, Decode(strings.NewReader(`{"title":`), &p))
}

func TestEncode(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Encode(&out, []patch{{Title: "a"}}))
	assert.Equal(t, "[{\"title\":\"a\"}]\n", out.String())
}

func TestPutBuffer_DropsLarge(t *testing.T) {
	large := bytes.NewBuffer(make([]byte, 0, 2*maxPooledBuffer))
	assert.NotPanics(t, func() {
		PutBuffer(large)
		PutBuffer(nil)
	})
	assert.Equal(t, 0, GetBuffer().Len())
}

func TestEncodeIndent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeIndent(&buf, patch{Title: "Run", Body: "<p>x</p>"}, "  "))
	assert.Equal(t, "{\n  \"title\": \"Run\",\n  \"body\": \"<p>x</p>\"\n}\n", buf.String())
}
