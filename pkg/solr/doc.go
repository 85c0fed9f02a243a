// Package solr is a small client for the DSpace Solr cores.
//
// It runs select queries against the search and statistics cores, decodes
// the parts of the response the statistics pipeline reads (numFound,
// stats_fields countDistinct and facet_fields) into typed values, and
// discovers the year-sharded statistics-YYYY cores so usage queries can be
// broadcast across all of them.
package solr
