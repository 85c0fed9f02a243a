package solr

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/repostats/pkg/window"
)

// Query describes a select request. Only the fields the statistics pipeline
// needs are modeled.
type Query struct {
	Core    string
	Q       string
	Filters []string
	Rows    int
	// Sharded broadcasts the query across all statistics shards
	Sharded bool

	FacetField  string
	FacetLimit  int
	FacetOffset int

	// StatsField requests countDistinct for the field
	StatsField string
}

// Values encodes the query as request parameters
func (q Query) Values() url.Values {
	v := url.Values{}
	query := q.Q
	if query == "" {
		query = "*:*"
	}
	v.Set("q", query)
	for _, fq := range q.Filters {
		v.Add("fq", fq)
	}
	v.Set("start", "0")
	v.Set("rows", strconv.Itoa(q.Rows))
	v.Set("wt", "json")

	if q.FacetField != "" {
		v.Set("facet", "true")
		v.Set("facet.field", q.FacetField)
		v.Set("facet.mincount", "1")
		v.Set("facet.limit", strconv.Itoa(q.FacetLimit))
		v.Set("facet.offset", strconv.Itoa(q.FacetOffset))
		v.Set("facet.sort", "index")
		v.Set("json.nl", "map")
	}
	if q.StatsField != "" {
		v.Set("stats", "true")
		v.Set("stats.field", q.StatsField)
		v.Set("stats.calcdistinct", "true")
	}
	return v
}

// RangeFilter returns a half-open range filter on field for r, or an empty
// string when r has no lower bound.
func RangeFilter(field string, r window.Range) string {
	if r.Unbounded() {
		return ""
	}
	return field + ":[" + FormatTime(r.Start) + " TO " + FormatTime(r.End) + "}"
}

// FormatTime renders t the way Solr date fields expect
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

var specialChars = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `!`, `\!`, `(`, `\(`, `)`, `\)`,
	`:`, `\:`, `^`, `\^`, `[`, `\[`, `]`, `\]`, `"`, `\"`, `{`, `\{`,
	`}`, `\}`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `&`, `\&`,
	`/`, `\/`, ` `, `\ `,
)

// Term returns a field:value clause with the value escaped
func Term(field, value string) string {
	return field + ":" + specialChars.Replace(value)
}
