package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStrings(t *testing.T) {
	p := NewProductInfo("https://example.com")
	p.SetRaw("image_candidates", []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, p.RawStrings("image_candidates"))
	assert.Nil(t, p.RawStrings("missing"))

	// After a JSON round trip (cache read) slices come back as []any.
	encoded, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded ProductInfo
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, []string{"a", "b"}, decoded.RawStrings("image_candidates"))
}

func TestSetRawAllocates(t *testing.T) {
	p := &ProductInfo{}
	p.SetRaw("method", "static")
	assert.Equal(t, "static", p.Raw["method"])
}
