package aspace

import "github.com/google/btree"

const regionSetDegree = 8

// RegionSet keeps a collection of non-overlapping regions ordered by their
// start address.
type RegionSet struct {
	tree *btree.BTreeG[*Region]
}

func regionLess(a, b *Region) bool {
	return a.Start < b.Start
}

// NewRegionSet returns an empty region set.
func NewRegionSet() *RegionSet {
	return &RegionSet{tree: btree.NewG[*Region](regionSetDegree, regionLess)}
}

// Len returns the number of regions in the set.
func (s *RegionSet) Len() int {
	return s.tree.Len()
}

// Find returns the region that contains addr.
func (s *RegionSet) Find(addr uintptr) (*Region, bool) {
	pred := s.predecessor(addr)
	if pred == nil || !pred.Contains(addr) {
		return nil, false
	}
	return pred, true
}

// Overlaps returns true if any region in the set intersects [start, end).
func (s *RegionSet) Overlaps(start, end uintptr) bool {
	if pred := s.predecessor(start); pred != nil && pred.End > start {
		return true
	}

	var overlap bool
	s.tree.AscendGreaterOrEqual(&Region{Start: start}, func(r *Region) bool {
		overlap = r.Start < end
		return false
	})
	return overlap
}

// Insert adds r to the set. It fails with ErrRegionOverlap if r intersects a
// region that is already in the set.
func (s *RegionSet) Insert(r *Region) error {
	if s.Overlaps(r.Start, r.End) {
		return ErrRegionOverlap
	}

	s.tree.ReplaceOrInsert(r)
	return nil
}

// Remove carves [start, end) out of the set. Regions that are fully covered
// are removed, regions that are partially covered are shrunk or split in two.
// Remove returns the pieces that were taken out of the set in ascending order.
func (s *RegionSet) Remove(start, end uintptr) []*Region {
	var hits []*Region

	if pred := s.predecessor(start); pred != nil && pred.Start < start && pred.End > start {
		hits = append(hits, pred)
	}
	s.tree.AscendRange(&Region{Start: start}, &Region{Start: end}, func(r *Region) bool {
		hits = append(hits, r)
		return true
	})

	removed := make([]*Region, 0, len(hits))
	for _, r := range hits {
		s.tree.Delete(r)

		if r.Start < start {
			s.tree.ReplaceOrInsert(r.slice(r.Start, start))
		}
		if r.End > end {
			s.tree.ReplaceOrInsert(r.slice(end, r.End))
		}

		removed = append(removed, r.slice(max(r.Start, start), min(r.End, end)))
	}

	return removed
}

// Ascend calls fn for each region in ascending start address order until fn
// returns false.
func (s *RegionSet) Ascend(fn func(*Region) bool) {
	s.tree.Ascend(fn)
}

// Clear removes all regions from the set.
func (s *RegionSet) Clear() {
	s.tree.Clear(false)
}

// predecessor returns the region with the highest start address that is
// less than or equal to addr.
func (s *RegionSet) predecessor(addr uintptr) *Region {
	var pred *Region
	s.tree.DescendLessOrEqual(&Region{Start: addr}, func(r *Region) bool {
		pred = r
		return false
	})
	return pred
}
