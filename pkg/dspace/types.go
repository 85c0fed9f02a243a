package dspace

import (
	"encoding/json"
	"strings"
)

// Entity is a DSpace object as returned by the core endpoints
type Entity struct {
	ID     string `json:"uuid"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Type   string `json:"type"`
}

// PageInfo is the HAL page block
type PageInfo struct {
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
	Number        int `json:"number"`
}

type halPage struct {
	Embedded map[string]json.RawMessage `json:"_embedded"`
	Page     *PageInfo                  `json:"page"`
}

// Endpoint paths and the _embedded keys they return
const (
	pathSites              = "core/sites"
	pathCommunities        = "core/communities"
	pathTopCommunities     = "core/communities/search/top"
	pathCollections        = "core/collections"
	pathItems              = "core/items"
	embeddedSites          = "sites"
	embeddedCommunities    = "communities"
	embeddedSubcommunities = "subcommunities"
	embeddedCollections    = "collections"
	embeddedItems          = "items"
)

// HandleURL builds the public URL of an object from its handle
func HandleURL(repositoryURL, handle string) string {
	if handle == "" {
		return ""
	}
	return strings.TrimRight(repositoryURL, "/") + "/handle/" + handle
}
