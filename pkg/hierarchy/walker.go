// Package hierarchy enumerates the communities, collections and items of a
// repository exactly once, together with the display name of each entity's
// parent.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Defaults used when a parent lookup fails or a record has no name
const (
	UnknownParent = "Unknown"
	Untitled      = "Untitled"
)

// Mode selects how communities and collections are discovered
type Mode string

const (
	// ModeTree walks top-level communities down through their children
	ModeTree Mode = "tree"
	// ModeFlat lists every community and collection and looks up each parent
	ModeFlat Mode = "flat"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTree, ModeFlat:
		return m, nil
	default:
		return "", fmt.Errorf("unknown hierarchy mode %q", s)
	}
}

// Source is the subset of the metadata API the walker reads
type Source interface {
	TopCommunities(ctx context.Context) iter.Seq2[dspace.Entity, error]
	SubCommunities(ctx context.Context, communityID string) iter.Seq2[dspace.Entity, error]
	CommunityCollections(ctx context.Context, communityID string) iter.Seq2[dspace.Entity, error]
	Communities(ctx context.Context) iter.Seq2[dspace.Entity, error]
	Collections(ctx context.Context) iter.Seq2[dspace.Entity, error]
	Items(ctx context.Context) iter.Seq2[dspace.Entity, error]
	ParentCommunity(ctx context.Context, collection bool, id string) (*dspace.Entity, error)
	OwningCollection(ctx context.Context, itemID string) (*dspace.Entity, error)
}

// Entry is one enumerated entity
type Entry struct {
	Kind       storage.Kind
	Entity     dspace.Entity
	ParentName string
}

// Walker enumerates entities from a Source. Each call re-reads the source.
type Walker struct {
	source Source
	mode   Mode
	log    *logrus.Logger
}

// NewWalker creates a walker
func NewWalker(source Source, mode Mode, log *logrus.Logger) *Walker {
	if log == nil {
		log = logrus.New()
	}
	if mode == "" {
		mode = ModeTree
	}
	return &Walker{source: source, mode: mode, log: log}
}

// frame is a pending community on the walk stack. An expanded frame has
// already been yielded and only its collections remain.
type frame struct {
	community  dspace.Entity
	parentName string
	expanded   bool
}

// Containers yields every community and collection once. In tree mode a
// community is followed by its whole sub-community subtree and then by the
// collections it owns directly.
func (w *Walker) Containers(ctx context.Context) iter.Seq[Entry] {
	if w.mode == ModeFlat {
		return w.flat(ctx)
	}
	return w.tree(ctx)
}

func (w *Walker) tree(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		visited := map[string]bool{}

		top := w.collect(ctx, "top-level communities", w.source.TopCommunities(ctx))
		stack := make([]frame, 0, len(top))
		for _, c := range slices.Backward(top) {
			stack = append(stack, frame{community: c})
		}

		for len(stack) > 0 {
			if ctx.Err() != nil {
				return
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if f.expanded {
				for _, coll := range w.collect(ctx, "collections of "+f.community.ID, w.source.CommunityCollections(ctx, f.community.ID)) {
					if !w.accept(storage.KindCollection, &coll, visited) {
						continue
					}
					if !yield(Entry{Kind: storage.KindCollection, Entity: coll, ParentName: f.community.Name}) {
						return
					}
				}
				continue
			}

			if !w.accept(storage.KindCommunity, &f.community, visited) {
				continue
			}
			if !yield(Entry{Kind: storage.KindCommunity, Entity: f.community, ParentName: f.parentName}) {
				return
			}

			f.expanded = true
			stack = append(stack, f)
			subs := w.collect(ctx, "sub-communities of "+f.community.ID, w.source.SubCommunities(ctx, f.community.ID))
			for _, sub := range slices.Backward(subs) {
				stack = append(stack, frame{community: sub, parentName: f.community.Name})
			}
		}
	}
}

func (w *Walker) flat(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		visited := map[string]bool{}

		for c, err := range w.source.Communities(ctx) {
			if err != nil {
				w.log.WithError(err).Error("Failed to list communities")
				break
			}
			if !w.accept(storage.KindCommunity, &c, visited) {
				continue
			}
			parent := w.parentName(ctx, false, c.ID, "")
			if !yield(Entry{Kind: storage.KindCommunity, Entity: c, ParentName: parent}) {
				return
			}
		}

		for c, err := range w.source.Collections(ctx) {
			if err != nil {
				w.log.WithError(err).Error("Failed to list collections")
				return
			}
			if !w.accept(storage.KindCollection, &c, visited) {
				continue
			}
			parent := w.parentName(ctx, true, c.ID, UnknownParent)
			if !yield(Entry{Kind: storage.KindCollection, Entity: c, ParentName: parent}) {
				return
			}
		}
	}
}

// Items yields every item with the name of its owning collection
func (w *Walker) Items(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		visited := map[string]bool{}

		for item, err := range w.source.Items(ctx) {
			if err != nil {
				w.log.WithError(err).Error("Failed to list items")
				return
			}
			if item.ID == "" {
				w.log.Warn("Skipping item without an identifier")
				continue
			}
			if visited[item.ID] {
				continue
			}
			visited[item.ID] = true
			if item.Name == "" {
				item.Name = Untitled
			}

			owner := UnknownParent
			coll, err := w.source.OwningCollection(ctx, item.ID)
			switch {
			case err == nil && coll.Name != "":
				owner = coll.Name
			case err != nil && !errors.Is(err, dspace.ErrNotFound):
				w.log.WithError(err).WithField("id", item.ID).Warn("Failed to look up owning collection")
			}

			if !yield(Entry{Kind: storage.KindItem, Entity: item, ParentName: owner}) {
				return
			}
		}
	}
}

// accept reports whether an entity has an identifier and is not yet
// visited, and marks it visited. A missing name is replaced with Untitled.
func (w *Walker) accept(kind storage.Kind, e *dspace.Entity, visited map[string]bool) bool {
	if e.ID == "" {
		w.log.WithFields(logrus.Fields{"kind": kind, "name": e.Name}).Warn("Skipping hierarchy node without an identifier")
		return false
	}
	if e.Name == "" {
		w.log.WithFields(logrus.Fields{"kind": kind, "id": e.ID}).Warn("Hierarchy node has no name, registering it as untitled")
		e.Name = Untitled
	}
	key := string(kind) + "/" + e.ID
	if visited[key] {
		w.log.WithFields(logrus.Fields{"kind": kind, "id": e.ID}).Warn("Skipping already visited hierarchy node")
		return false
	}
	visited[key] = true
	return true
}

func (w *Walker) parentName(ctx context.Context, collection bool, id, fallback string) string {
	parent, err := w.source.ParentCommunity(ctx, collection, id)
	if err != nil {
		if !errors.Is(err, dspace.ErrNotFound) {
			w.log.WithError(err).WithField("id", id).Warn("Failed to look up parent community")
		}
		return fallback
	}
	if parent.Name == "" {
		return fallback
	}
	return parent.Name
}

// collect drains a listing. A listing that fails part way is logged and the
// entities read so far are kept.
func (w *Walker) collect(ctx context.Context, what string, seq iter.Seq2[dspace.Entity, error]) []dspace.Entity {
	var out []dspace.Entity
	for e, err := range seq {
		if err != nil {
			if ctx.Err() == nil {
				w.log.WithError(err).Errorf("Failed to list %s", what)
			}
			break
		}
		out = append(out, e)
	}
	return out
}
