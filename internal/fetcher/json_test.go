package fetcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestDecodeJSONBytes(t *testing.T) {
	rec, err := DecodeJSONBytes[testRecord]([]byte(`{"id":7,"name":"lamp"}`))
	require.NoError(t, err)
	assert.Equal(t, 7, rec.ID)
	assert.Equal(t, "lamp", rec.Name)
}

func TestDecodeJSONBytes_KeepsLargeIDs(t *testing.T) {
	out, err := DecodeJSONBytes[map[string]any]([]byte(`{"id":13000000000123456}`))
	require.NoError(t, err)
	n, ok := (*out)["id"].(json.Number)
	require.True(t, ok)
	id, err := n.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(13000000000123456), id)
}

func TestDecodeJSONBytes_Malformed(t *testing.T) {
	_, err := DecodeJSONBytes[testRecord]([]byte(`{"id":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode body")
}
