package solr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FacetValue is one bucket of a facet field
type FacetValue struct {
	Key   string
	Count int
}

// Response holds the decoded parts of a select response
type Response struct {
	NumFound int64
	// CountDistinct is keyed by stats field; a field missing from the
	// response is missing from the map
	CountDistinct map[string]int64
	// Facets preserves the bucket order Solr returned
	Facets map[string][]FacetValue
}

type rawResponse struct {
	Response struct {
		NumFound int64 `json:"numFound"`
	} `json:"response"`
	Stats struct {
		StatsFields map[string]*struct {
			CountDistinct *int64 `json:"countDistinct"`
		} `json:"stats_fields"`
	} `json:"stats"`
	FacetCounts struct {
		FacetFields map[string]json.RawMessage `json:"facet_fields"`
	} `json:"facet_counts"`
}

// ParseResponse decodes a Solr JSON select response
func ParseResponse(body []byte) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode solr response: %w", err)
	}

	out := &Response{
		NumFound:      raw.Response.NumFound,
		CountDistinct: map[string]int64{},
		Facets:        map[string][]FacetValue{},
	}
	for field, stats := range raw.Stats.StatsFields {
		// Solr sends null for a field with no matching documents
		if stats == nil || stats.CountDistinct == nil {
			continue
		}
		out.CountDistinct[field] = *stats.CountDistinct
	}
	for field, data := range raw.FacetCounts.FacetFields {
		values, err := parseFacetField(data)
		if err != nil {
			return nil, fmt.Errorf("facet field %s: %w", field, err)
		}
		out.Facets[field] = values
	}
	return out, nil
}

// parseFacetField accepts both json.nl=map ({"key": n}) and Solr's default
// flat list ([key, n, key, n]) encodings.
func parseFacetField(data json.RawMessage) ([]FacetValue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var flat []json.RawMessage
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, err
		}
		if len(flat)%2 != 0 {
			return nil, fmt.Errorf("odd number of entries in facet list")
		}
		values := make([]FacetValue, 0, len(flat)/2)
		for i := 0; i < len(flat); i += 2 {
			var v FacetValue
			if err := json.Unmarshal(flat[i], &v.Key); err != nil {
				return nil, fmt.Errorf("facet key: %w", err)
			}
			if err := json.Unmarshal(flat[i+1], &v.Count); err != nil {
				return nil, fmt.Errorf("facet count for %s: %w", v.Key, err)
			}
			values = append(values, v)
		}
		return values, nil

	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var values []FacetValue
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected facet key %v", tok)
			}
			var count int
			if err := dec.Decode(&count); err != nil {
				return nil, fmt.Errorf("facet count for %s: %w", key, err)
			}
			values = append(values, FacetValue{Key: key, Count: count})
		}
		return values, nil

	default:
		return nil, fmt.Errorf("unsupported facet encoding")
	}
}
