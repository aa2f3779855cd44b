package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectQValue(t *testing.T) {
	offered := []string{"application/json", "application/cbor"}

	cases := []struct {
		name     string
		header   string
		expected string
	}{
		{"empty header", "", ""},
		{"exact match", "application/json", "application/json"},
		{"unknown type", "text/html", ""},
		{"weights", "application/json;q=0.5, application/cbor", "application/cbor"},
		{"tie prefers first offer", "application/cbor;q=0.9, application/json;q=0.9", "application/json"},
		{"malformed weight counts as 1", "application/cbor;q=oops, application/json;q=0.5", "application/cbor"},
		{"whitespace", "  application/cbor ;  q=0.8 ", "application/cbor"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, SelectQValue(c.header, offered))
		})
	}
}

func TestSelect(t *testing.T) {
	offered := []string{"application/problem+json", "application/problem+cbor"}

	assert.Equal(t, "application/problem+cbor", Select("application/problem+cbor", offered))
	assert.Equal(t, "application/problem+json", Select("", offered))
	assert.Equal(t, "application/problem+json", Select("text/html", offered))
	assert.Equal(t, "", Select("anything", nil))
}
