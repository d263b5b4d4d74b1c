// package bvh implements the CPU-side acceleration structures the tracer
// uploads to the GPU: axis-aligned bounding boxes, a binned surface-area-
// heuristic BVH builder with refitting, and a 4-wide collapsed variant for
// SIMD-style traversal in compute kernels.
package bvh

import (
	"math"

	"github.com/lumen-rt/lumen/common"
)

// AABB is an axis-aligned bounding box in the exact 32-byte layout the
// traversal kernels expect. The two i32 fields double as node links when the
// box is used as a BVH node: LeftFirst is the left child index for interior
// nodes or the first primitive index for leaves, and Count is the primitive
// count for leaves or -1 for interior nodes.
// Size: 32 bytes (std430 aligned).
type AABB struct {
	Min       [3]float32 // offset  0: minimum corner
	LeftFirst int32      // offset 12: left child index (interior) or first primitive (leaf)
	Max       [3]float32 // offset 16: maximum corner
	Count     int32      // offset 28: primitive count (leaf) or -1 (interior)
}

// NewAABB returns an empty bounding box: inverted bounds that any Grow call
// will replace, with both node links unset.
//
// Returns:
//   - AABB: an empty box (Min = +1e34, Max = -1e34, LeftFirst = -1, Count = -1)
func NewAABB() AABB {
	return AABB{
		Min:       [3]float32{1e34, 1e34, 1e34},
		LeftFirst: -1,
		Max:       [3]float32{-1e34, -1e34, -1e34},
		Count:     -1,
	}
}

// IsLeaf reports whether the box, interpreted as a BVH node, is a leaf.
func (b *AABB) IsLeaf() bool {
	return b.Count >= 0
}

// IsEmpty reports whether the box still has inverted bounds, i.e. nothing has
// been grown into it.
func (b *AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0]
}

// Grow expands the box to include a point.
//
// Parameters:
//   - p: the point to include
func (b *AABB) Grow(p [3]float32) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// GrowBB expands the box to include another box.
//
// Parameters:
//   - o: the box to include
func (b *AABB) GrowBB(o *AABB) {
	for i := 0; i < 3; i++ {
		if o.Min[i] < b.Min[i] {
			b.Min[i] = o.Min[i]
		}
		if o.Max[i] > b.Max[i] {
			b.Max[i] = o.Max[i]
		}
	}
}

// Union returns the smallest box containing both operands. Node links are
// left unset on the result.
//
// Parameters:
//   - o: the other box
//
// Returns:
//   - AABB: the union of b and o
func (b *AABB) Union(o *AABB) AABB {
	u := NewAABB()
	u.GrowBB(b)
	u.GrowBB(o)
	return u
}

// Offset pads the box outward by delta on every axis. Used to absorb
// floating point error after transforming or refitting bounds.
//
// Parameters:
//   - delta: padding distance per axis
func (b *AABB) Offset(delta float32) {
	for i := 0; i < 3; i++ {
		b.Min[i] -= delta
		b.Max[i] += delta
	}
}

// Center returns the midpoint of the box along one axis.
//
// Parameters:
//   - axis: 0 = x, 1 = y, 2 = z
//
// Returns:
//   - float32: the center coordinate on that axis
func (b *AABB) Center(axis int) float32 {
	return (b.Min[axis] + b.Max[axis]) * 0.5
}

// Area returns half the surface area of the box, the quantity the SAH cost
// model compares. Empty boxes report zero.
//
// Returns:
//   - float32: extent.x*extent.y + extent.x*extent.z + extent.y*extent.z, clamped to >= 0
func (b *AABB) Area() float32 {
	ex := b.Max[0] - b.Min[0]
	ey := b.Max[1] - b.Min[1]
	ez := b.Max[2] - b.Min[2]
	area := ex*ey + ex*ez + ey*ez
	if area < 0 || b.IsEmpty() {
		return 0
	}
	return area
}

// Intersect performs the slab test against a ray. The ray direction is
// supplied pre-inverted so traversal pays the divisions once per ray.
//
// Parameters:
//   - origin: ray origin
//   - dirInverse: component-wise reciprocal of the ray direction
//   - tMax: current closest hit distance
//
// Returns:
//   - float32: entry distance tMin (only valid when hit is true)
//   - bool: true when the ray overlaps the box before tMax
func (b *AABB) Intersect(origin, dirInverse [3]float32, tMax float32) (float32, bool) {
	tIn := float32(math.Inf(-1))
	tOut := float32(math.Inf(1))
	for i := 0; i < 3; i++ {
		t1 := (b.Min[i] - origin[i]) * dirInverse[i]
		t2 := (b.Max[i] - origin[i]) * dirInverse[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tIn {
			tIn = t1
		}
		if t2 < tOut {
			tOut = t2
		}
	}
	if tOut >= tIn && tIn < tMax && tOut > 0 {
		return tIn, true
	}
	return 0, false
}

// TransformedBy returns the axis-aligned bounds of the box under an affine
// transform, computed from the eight transformed corners and padded by a
// small epsilon. Node links are left unset on the result.
//
// Parameters:
//   - m: 4x4 column-major transform (16 elements)
//
// Returns:
//   - AABB: world-space bounds of the transformed box
func (b *AABB) TransformedBy(m []float32) AABB {
	out := NewAABB()
	if b.IsEmpty() {
		return out
	}
	for i := 0; i < 8; i++ {
		x := b.Min[0]
		if i&1 != 0 {
			x = b.Max[0]
		}
		y := b.Min[1]
		if i&2 != 0 {
			y = b.Max[1]
		}
		z := b.Min[2]
		if i&4 != 0 {
			z = b.Max[2]
		}
		out.Grow(common.TransformPoint(m, x, y, z))
	}
	out.Offset(1e-6)
	return out
}
