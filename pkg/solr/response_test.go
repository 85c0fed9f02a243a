package solr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseFlatFacetList(t *testing.T) {
	resp, err := ParseResponse([]byte(`{
		"response": {"numFound": 3},
		"facet_counts": {"facet_fields": {"id": ["x", 9, "y", 1]}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []FacetValue{{Key: "x", Count: 9}, {Key: "y", Count: 1}}, resp.Facets["id"])
}

func TestParseResponseNullStats(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"stats": {"stats_fields": {"owningComm": null}}}`))
	require.NoError(t, err)
	_, ok := resp.CountDistinct["owningComm"]
	assert.False(t, ok)
	assert.Empty(t, resp.Facets)
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "odd list", body: `{"facet_counts": {"facet_fields": {"id": ["x", 1, "y"]}}}`},
		{name: "bad count", body: `{"facet_counts": {"facet_fields": {"id": {"x": "many"}}}}`},
		{name: "scalar", body: `{"facet_counts": {"facet_fields": {"id": 4}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}
