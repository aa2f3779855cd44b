package cbor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apicompat/problem"
)

func TestRegistersCodecs(t *testing.T) {
	for _, ct := range []string{"application/cbor", "application/problem+cbor", "cbor"} {
		_, ok := problem.DefaultCodecs[ct]
		assert.True(t, ok, ct)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	doc := problem.Wire{
		"type":   "https://api.example.com/errors/not-found",
		"title":  "Not Found",
		"status": 404,
		"detail": "Order 42 does not exist",
	}

	var buf bytes.Buffer
	require.NoError(t, DefaultCBORCodec.Marshal(&buf, doc))

	var decoded map[string]any
	require.NoError(t, DefaultCBORCodec.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Not Found", decoded["title"])
	assert.Equal(t, "Order 42 does not exist", decoded["detail"])
	assert.EqualValues(t, 404, decoded["status"])
}
