package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostic_MarshalJSON(t *testing.T) {
	d := NewDiagnostic(DiagnosticFetchFailure, "GET https://example.com/s?page=2", nil)
	d.Meta = Metadata{Kind: KindSearch, Source: "amazon", Page: 2}
	d.Cause = errors.New("unexpected status 503")
	d.Body = []byte("<html>")

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "fetch_failure", got["kind"])
	assert.Equal(t, "unexpected status 503", got["error"])
	assert.NotContains(t, got, "Body")
	assert.NotContains(t, got, "Cause")
	assert.Equal(t, "amazon", got["meta"].(map[string]any)["source"])

	d.Cause = nil
	data, err = json.Marshal([]*Diagnostic{d})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
}
