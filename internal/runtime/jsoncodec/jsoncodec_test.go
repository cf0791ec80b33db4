package jsoncodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRequest struct {
	TestSend int    `json:"test_send"`
	Note     string `json:"note,omitempty"`
}

func TestUnmarshal_StringsOutliveThePayload(t *testing.T) {
	payload := []byte(`{"test_send":42,"note":"hello"}`)

	var req pingRequest
	require.NoError(t, Unmarshal(payload, &req))
	for i := range payload {
		payload[i] = 0
	}
	assert.Equal(t, pingRequest{TestSend: 42, Note: "hello"}, req)
}

func TestMarshal_SortsMapKeys(t *testing.T) {
	stats := map[string]int{"processed": 3, "failed": 1, "enqueued": 4}
	for range 5 {
		out, err := Marshal(stats)
		require.NoError(t, err)
		assert.Equal(t, `{"enqueued":4,"failed":1,"processed":3}`, string(out))
	}

	indented, err := MarshalIndent(map[string]int{"b": 2, "a": 1}, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}", string(indented))
}

func TestUnmarshal_RejectsMalformedPayload(t *testing.T) {
	var req pingRequest
	assert.Error(t, Unmarshal([]byte(`{"test_send":`), &req))
	assert.Error(t, Unmarshal([]byte(`{"test_send":"x"}`), &req))
}

func TestEncode_OneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, pingRequest{TestSend: 1}))
	require.NoError(t, Encode(&buf, pingRequest{TestSend: 2, Note: "<b>"}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"test_send":1}`, lines[0])
	assert.Equal(t, `{"test_send":2,"note":"\u003cb\u003e"}`, lines[1])

	var got pingRequest
	require.NoError(t, Decode(strings.NewReader(lines[1]), &got))
	assert.Equal(t, pingRequest{TestSend: 2, Note: "<b>"}, got)
}
