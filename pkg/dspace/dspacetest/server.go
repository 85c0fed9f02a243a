// Package dspacetest provides an in-process fake of the DSpace REST API for
// tests.
package dspacetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/repostats/pkg/dspace"
)

// Token is the CSRF token the fake hands out
const Token = "csrf-token"

// Bearer is the Authorization value returned by a successful login
const Bearer = "Bearer test-session"

// Collection is a collection and the items it owns
type Collection struct {
	dspace.Entity
	Items []dspace.Entity
}

// Community is a community with its children
type Community struct {
	dspace.Entity
	SubCommunities []Community
	Collections    []Collection
}

// Repository is the object tree served by the fake
type Repository struct {
	Site        dspace.Entity
	Communities []Community
	Username    string
	Password    string
}

// Server is a running fake
type Server struct {
	*httptest.Server

	repo            Repository
	communities     []dspace.Entity
	collections     []dspace.Entity
	items           []dspace.Entity
	subcommunities  map[string][]dspace.Entity
	ownedColls      map[string][]dspace.Entity
	communityParent map[string]dspace.Entity
	collParent      map[string]dspace.Entity
	itemOwner       map[string]dspace.Entity

	mu       sync.Mutex
	requests map[string]int
}

// NewServer starts a fake serving repo
func NewServer(repo Repository) *Server {
	s := &Server{
		repo:            repo,
		subcommunities:  map[string][]dspace.Entity{},
		ownedColls:      map[string][]dspace.Entity{},
		communityParent: map[string]dspace.Entity{},
		collParent:      map[string]dspace.Entity{},
		itemOwner:       map[string]dspace.Entity{},
		requests:        map[string]int{},
	}
	var index func(parent *dspace.Entity, c Community)
	index = func(parent *dspace.Entity, c Community) {
		s.communities = append(s.communities, c.Entity)
		if parent != nil {
			s.communityParent[c.ID] = *parent
		}
		for _, sub := range c.SubCommunities {
			s.subcommunities[c.ID] = append(s.subcommunities[c.ID], sub.Entity)
			index(&c.Entity, sub)
		}
		for _, coll := range c.Collections {
			s.collections = append(s.collections, coll.Entity)
			s.ownedColls[c.ID] = append(s.ownedColls[c.ID], coll.Entity)
			s.collParent[coll.ID] = c.Entity
			for _, item := range coll.Items {
				s.items = append(s.items, item)
				s.itemOwner[item.ID] = coll.Entity
			}
		}
	}
	var top []dspace.Entity
	for _, c := range repo.Communities {
		top = append(top, c.Entity)
		index(nil, c)
	}

	r := mux.NewRouter()
	r.Use(s.count)
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"type": "root"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/security/csrf", s.csrf).Methods(http.MethodGet)
	r.HandleFunc("/authn/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/core/sites", s.list("sites", func(string) []dspace.Entity { return []dspace.Entity{repo.Site} }))
	r.HandleFunc("/core/communities", s.list("communities", func(string) []dspace.Entity { return s.communities }))
	r.HandleFunc("/core/communities/search/top", s.list("communities", func(string) []dspace.Entity { return top }))
	r.HandleFunc("/core/communities/{id}/subcommunities", s.list("subcommunities", func(id string) []dspace.Entity { return s.subcommunities[id] }))
	r.HandleFunc("/core/communities/{id}/collections", s.list("collections", func(id string) []dspace.Entity { return s.ownedColls[id] }))
	r.HandleFunc("/core/communities/{id}/parentCommunity", s.single(s.communityParent))
	r.HandleFunc("/core/collections", s.list("collections", func(string) []dspace.Entity { return s.collections }))
	r.HandleFunc("/core/collections/{id}/parentCommunity", s.single(s.collParent))
	r.HandleFunc("/core/items", s.list("items", func(string) []dspace.Entity { return s.items }))
	r.HandleFunc("/core/items/{id}/owningCollection", s.single(s.itemOwner))

	s.Server = httptest.NewServer(r)
	return s
}

// Requests returns how many times a path was requested
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) csrf(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("DSPACE-XSRF-TOKEN", Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-XSRF-TOKEN") != Token {
		http.Error(w, "missing csrf token", http.StatusForbidden)
		return
	}
	if cookie, err := r.Cookie("DSPACE-XSRF-COOKIE"); err != nil || cookie.Value != Token {
		http.Error(w, "missing csrf cookie", http.StatusForbidden)
		return
	}
	if r.FormValue("user") != s.repo.Username || r.FormValue("password") != s.repo.Password {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Authorization", Bearer)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(key string, source func(id string) []dspace.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := source(mux.Vars(r)["id"])
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil || size <= 0 {
			size = 20
		}

		start := page * size
		if start > len(all) {
			start = len(all)
		}
		end := start + size
		if end > len(all) {
			end = len(all)
		}

		writeJSON(w, map[string]interface{}{
			"_embedded": map[string]interface{}{key: all[start:end]},
			"page": dspace.PageInfo{
				Size:          size,
				TotalElements: len(all),
				TotalPages:    (len(all) + size - 1) / size,
				Number:        page,
			},
		})
	}
}

func (s *Server) single(lookup map[string]dspace.Entity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookup[mux.Vars(r)["id"]]
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, e)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/hal+json")
	json.NewEncoder(w).Encode(v)
}
