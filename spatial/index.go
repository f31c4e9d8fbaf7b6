// Package spatial provides an envelope index that maps feature bounding boxes
// to ordinal feature ids.
//
// The index is backed by an R-tree. Ids are ordinals into a feature file, so
// removing a feature renumbers every later feature; RemoveAndShift keeps the
// index in step with that renumbering.
package spatial

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// padding widens every stored and queried rectangle. The R-tree treats
// touching and zero-size rectangles as disjoint, while envelope queries are
// inclusive; candidates are checked exactly against the unpadded bounds.
const padding = 1e-9

// Index is an envelope to id index. It is not safe for concurrent use.
type Index struct {
	tree  *rtreego.Rtree
	items map[int]*item
}

// item is one indexed feature.
type item struct {
	id    int
	bound orb.Bound
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (it *item) Bounds() rtreego.Rect {
	return it.rect
}

// New returns an empty index.
func New() *Index {
	return &Index{
		// 2D, min=25 children, max=50 children
		tree:  rtreego.NewTree(2, 25, 50),
		items: make(map[int]*item),
	}
}

// Len returns the number of indexed features.
func (idx *Index) Len() int {
	return len(idx.items)
}

// Insert adds id with envelope b. Inserting an id that is already present
// replaces its envelope.
func (idx *Index) Insert(b orb.Bound, id int) {
	if old, ok := idx.items[id]; ok {
		idx.tree.Delete(old)
	}

	it := &item{id: id, bound: b, rect: toRect(b)}
	idx.items[id] = it
	idx.tree.Insert(it)
}

// Remove deletes id. The envelope must match the one id was inserted with.
func (idx *Index) Remove(b orb.Bound, id int) bool {
	it, ok := idx.items[id]
	if !ok || !it.bound.Equal(b) {
		return false
	}
	return idx.remove(it)
}

// RemoveAndShift deletes id and renumbers every id above it down by one. The
// renumbering happens even when id itself is not indexed, as for a null
// shape. It reports whether id was removed.
func (idx *Index) RemoveAndShift(id int) bool {
	removed := false
	if it, ok := idx.items[id]; ok {
		removed = idx.remove(it)
	}

	shifted := make(map[int]*item, len(idx.items))
	for k, v := range idx.items {
		if k > id {
			v.id = k - 1
		}
		shifted[v.id] = v
	}
	idx.items = shifted
	return removed
}

func (idx *Index) remove(it *item) bool {
	if !idx.tree.Delete(it) {
		return false
	}
	delete(idx.items, it.id)
	return true
}

// Query returns the ids whose envelopes intersect b, boundaries included, in
// ascending order.
func (idx *Index) Query(b orb.Bound) []int {
	if len(idx.items) == 0 {
		return nil
	}

	candidates := idx.tree.SearchIntersect(toRect(b))
	ids := make([]int, 0, len(candidates))
	for _, c := range candidates {
		it := c.(*item)
		if it.bound.Intersects(b) {
			ids = append(ids, it.id)
		}
	}
	sort.Ints(ids)
	return ids
}

// All returns every indexed id in ascending order.
func (idx *Index) All() []int {
	ids := make([]int, 0, len(idx.items))
	for id := range idx.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func toRect(b orb.Bound) rtreego.Rect {
	rect, _ := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min[0] - padding, b.Min[1] - padding},
		rtreego.Point{b.Max[0] + padding, b.Max[1] + padding},
	)
	return rect
}
