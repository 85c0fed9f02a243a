// Package dspace is a client for the DSpace 7 REST API.
//
// The client negotiates the CSRF token and optional password login the
// server requires, walks HAL paged listings lazily, and decodes the
// community, collection and item records the statistics pipeline needs
// into typed values.
package dspace
