package shapefile

import (
	"context"
	"sort"

	"github.com/paulmach/orb/geojson"
)

// Cursor is the position a Select resumes from. The zero value starts at the
// first feature.
type Cursor int

// SelectResult is one page of a Select.
type SelectResult struct {
	Features []*Feature
	Examined int    // Features read, matching or not
	Next     Cursor // Pass to the next Select to continue
	Done     bool   // No features remain after Next
}

// Select returns up to maxCount features at or after cursor that intersect
// envelope and satisfy filter. A nil filter or envelope matches everything;
// maxCount <= 0 means no limit. Envelope selections use the spatial index,
// building it on first use, and so never return null shapes; a nil envelope
// returns them with a nil Geometry. The context is checked before each
// feature.
func (src *FeatureSource) Select(ctx context.Context, filter Filter, envelope *Extent, cursor Cursor, maxCount int) (*SelectResult, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return nil, err
	}

	start := int(cursor)
	if start < 0 {
		start = 0
	}

	candidates, err := src.candidates(start, envelope)
	if err != nil {
		return nil, err
	}

	res := &SelectResult{Next: Cursor(start)}
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res.Examined++
		res.Next = Cursor(id + 1)

		f, err := src.selectOne(id, filter, envelope)
		if err != nil {
			return nil, err
		}
		if f != nil {
			res.Features = append(res.Features, f)
		}
		if maxCount > 0 && len(res.Features) >= maxCount {
			res.Done = i == len(candidates)-1
			return res, nil
		}
	}
	res.Done = true
	if n := Cursor(len(src.index.Shapes)); res.Next < n {
		res.Next = n
	}
	return res, nil
}

// candidates returns the ids at or after start that may match envelope.
func (src *FeatureSource) candidates(start int, envelope *Extent) ([]int, error) {
	if envelope == nil {
		n := len(src.index.Shapes) - start
		if n <= 0 {
			return nil, nil
		}
		ids := make([]int, n)
		for i := range ids {
			ids[i] = start + i
		}
		return ids, nil
	}

	if err := src.buildIndex(); err != nil {
		return nil, err
	}
	ids := src.tree.Query(envelope.Bound())
	first := sort.SearchInts(ids, start)
	return ids[first:], nil
}

func (src *FeatureSource) selectOne(id int, filter Filter, envelope *Extent) (*Feature, error) {
	s, err := GetShapeAtIndex(src.shp, src.index.Shapes[id], src.header, id, envelope)
	if err != nil {
		return nil, err
	}
	if s == nil && envelope != nil {
		return nil, nil
	}

	attrs, err := src.attributes(id)
	if err != nil {
		return nil, err
	}
	if filter != nil && !filter(geojson.Properties(attrs)) {
		return nil, nil
	}
	return featureFromShape(id, s, attrs), nil
}
