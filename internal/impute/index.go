package impute

import (
	"container/heap"
	"math"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
)

// EarthRadiusKM is the mean earth radius used to turn central angles into
// kilometres.
const EarthRadiusKM = 6371.0088

// DistanceKM returns the great-circle distance between two points given in
// degrees.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusKM
}

// Neighbor is one nearest-neighbour hit.
type Neighbor struct {
	Key        int64
	DistanceKM float64
}

type point struct {
	key int64
	ll  s2.LatLng
}

// Index answers k-nearest queries over a fixed set of keyed centroids.
type Index struct {
	points []point
}

// NewIndex builds an index over the given keys and coordinates in degrees.
// Keys must be unique and coordinates must be valid.
func NewIndex(keys []int64, lats, lngs []float64) (*Index, error) {
	if len(keys) != len(lats) || len(keys) != len(lngs) {
		return nil, eris.Errorf("impute: index input lengths differ: %d keys, %d lats, %d lngs", len(keys), len(lats), len(lngs))
	}
	seen := make(map[int64]struct{}, len(keys))
	ix := &Index{points: make([]point, 0, len(keys))}
	for i, k := range keys {
		if _, dup := seen[k]; dup {
			return nil, eris.Errorf("impute: duplicate index key %d", k)
		}
		seen[k] = struct{}{}
		ll := s2.LatLngFromDegrees(lats[i], lngs[i])
		if math.IsNaN(lats[i]) || math.IsNaN(lngs[i]) || !ll.IsValid() {
			return nil, eris.Errorf("impute: invalid centroid (%g, %g) for key %d", lats[i], lngs[i], k)
		}
		ix.points = append(ix.points, point{key: k, ll: ll})
	}
	return ix, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// Nearest returns up to k points closest to (lat, lng), ordered by distance
// and then by key, so equidistant points resolve deterministically.
func (ix *Index) Nearest(lat, lng float64, k int) []Neighbor {
	if k <= 0 || len(ix.points) == 0 {
		return nil
	}
	q := s2.LatLngFromDegrees(lat, lng)
	h := make(worstFirst, 0, k+1)
	for _, p := range ix.points {
		n := Neighbor{Key: p.key, DistanceKM: q.Distance(p.ll).Radians() * EarthRadiusKM}
		if len(h) < k {
			heap.Push(&h, n)
			continue
		}
		if closer(n, h[0]) {
			h[0] = n
			heap.Fix(&h, 0)
		}
	}
	out := make([]Neighbor, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Neighbor)
	}
	return out
}

func closer(a, b Neighbor) bool {
	if a.DistanceKM != b.DistanceKM {
		return a.DistanceKM < b.DistanceKM
	}
	return a.Key < b.Key
}

// worstFirst is a max-heap: the farthest kept neighbour sits at the root.
type worstFirst []Neighbor

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
