// package mesh holds triangle geometry and the per-mesh acceleration
// structures, plus the store that packs every mesh into the shared scene
// buffers the kernels traverse.
package mesh

import (
	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/bvh"
)

// intersectEpsilon rejects ray/triangle hits closer than this, keeping
// secondary rays from re-hitting their origin surface.
const intersectEpsilon = 1e-4

// Bounds returns the triangle's bounding box, padded like every other box
// that ends up in a BVH leaf.
//
// Returns:
//   - bvh.AABB: the padded triangle bounds
func (t *Triangle) Bounds() bvh.AABB {
	box := bvh.NewAABB()
	box.Grow(t.Vertex0)
	box.Grow(t.Vertex1)
	box.Grow(t.Vertex2)
	box.Offset(1e-6)
	return box
}

// Center returns the triangle centroid.
func (t *Triangle) Center() [3]float32 {
	const third = float32(1.0 / 3.0)
	return [3]float32{
		(t.Vertex0[0] + t.Vertex1[0] + t.Vertex2[0]) * third,
		(t.Vertex0[1] + t.Vertex1[1] + t.Vertex2[1]) * third,
		(t.Vertex0[2] + t.Vertex1[2] + t.Vertex2[2]) * third,
	}
}

// Intersect runs the Moeller-Trumbore test against a ray.
//
// Parameters:
//   - origin: ray origin
//   - direction: ray direction (need not be normalized)
//   - tMax: current closest hit distance
//
// Returns:
//   - float32: hit distance (only valid when hit is true)
//   - bool: true when the ray hits the triangle before tMax
func (t *Triangle) Intersect(origin, direction [3]float32, tMax float32) (float32, bool) {
	edge1 := common.Sub3(t.Vertex1, t.Vertex0)
	edge2 := common.Sub3(t.Vertex2, t.Vertex0)

	h := common.Cross3(direction, edge1)
	a := common.Dot3(edge2, h)
	if a > -1e-8 && a < 1e-8 {
		return 0, false
	}
	f := 1.0 / a
	s := common.Sub3(origin, t.Vertex0)
	u := f * common.Dot3(s, h)
	if u < 0 || u > 1 {
		return 0, false
	}
	q := common.Cross3(s, edge2)
	v := f * common.Dot3(direction, q)
	if v < 0 || u+v > 1 {
		return 0, false
	}
	dist := f * common.Dot3(edge1, q)
	if dist <= intersectEpsilon || dist >= tMax {
		return 0, false
	}
	return dist, true
}

// Mesh couples a triangle list with its acceleration structures. Both the
// binary hierarchy and its 4-wide collapse are kept so the scene buffers can
// carry whichever layout a kernel traverses.
type Mesh struct {
	Triangles []Triangle
	Tree      *bvh.BVH
	Wide      *bvh.MBVH
}

// NewMesh builds a mesh and both its acceleration structures eagerly. An
// empty triangle list is valid and yields an empty hierarchy.
//
// Parameters:
//   - triangles: the mesh geometry; the slice is retained, not copied
//
// Returns:
//   - *Mesh: the constructed mesh
func NewMesh(triangles []Triangle) *Mesh {
	aabbs := make([]bvh.AABB, len(triangles))
	centroids := make([][3]float32, len(triangles))
	for i := range triangles {
		aabbs[i] = triangles[i].Bounds()
		centroids[i] = triangles[i].Center()
	}
	tree := bvh.NewBVH(aabbs, centroids)
	return &Mesh{
		Triangles: triangles,
		Tree:      tree,
		Wide:      bvh.NewMBVH(tree),
	}
}

// Bounds returns the mesh's object-space bounds.
func (m *Mesh) Bounds() bvh.AABB {
	return m.Tree.Bounds()
}

// Refit re-fits both hierarchies to the current triangle positions without
// rebuilding topology. Call after mutating Triangles in place.
func (m *Mesh) Refit() {
	aabbs := make([]bvh.AABB, len(m.Triangles))
	for i := range m.Triangles {
		aabbs[i] = m.Triangles[i].Bounds()
	}
	m.Tree.Refit(aabbs)
	m.Wide.RefitFrom(m.Tree)
}

// Intersect traverses the mesh hierarchy with a ray in object space.
//
// Parameters:
//   - origin: ray origin in object space
//   - direction: ray direction in object space
//   - tMax: maximum hit distance
//
// Returns:
//   - uint32: triangle index of the closest hit
//   - float32: hit distance
//   - bool: true when anything was hit
func (m *Mesh) Intersect(origin, direction [3]float32, tMax float32) (uint32, float32, bool) {
	return m.Tree.Traverse(origin, direction, tMax, func(primID uint32, max float32) (float32, bool) {
		return m.Triangles[primID].Intersect(origin, direction, max)
	})
}

// VertexWeights holds the skinning influences of one triangle corner.
type VertexWeights struct {
	Joints  [4]uint16
	Weights [4]float32
}

// AnimatedMesh is a mesh whose vertices are driven by a joint palette. The
// rest pose is kept so skinning is always computed from the original
// positions, and the hierarchy is refitted rather than rebuilt since the
// topology never changes.
type AnimatedMesh struct {
	Mesh
	rest []Triangle
	// skin holds three VertexWeights per triangle, corner order 0,1,2.
	skin []VertexWeights
}

// NewAnimatedMesh builds an animated mesh from its rest pose.
//
// Parameters:
//   - triangles: rest-pose geometry
//   - skin: three influence entries per triangle (corner order); may be nil
//     for rigid "animated" meshes that are skinned by a single joint
//
// Returns:
//   - *AnimatedMesh: the constructed mesh
func NewAnimatedMesh(triangles []Triangle, skin []VertexWeights) *AnimatedMesh {
	rest := make([]Triangle, len(triangles))
	copy(rest, triangles)
	posed := make([]Triangle, len(triangles))
	copy(posed, triangles)
	return &AnimatedMesh{
		Mesh: *NewMesh(posed),
		rest: rest,
		skin: skin,
	}
}

// Skin poses the mesh with a joint palette and refits the hierarchies.
// Vertices are blended from the rest pose; normals are transformed by the
// same matrices and renormalized.
//
// Parameters:
//   - jointMatrices: 4x4 column-major palette, indexed by VertexWeights.Joints
func (m *AnimatedMesh) Skin(jointMatrices [][16]float32) {
	if len(m.skin) == 0 || len(jointMatrices) == 0 {
		copy(m.Triangles, m.rest)
		m.Refit()
		return
	}

	for i := range m.rest {
		src := &m.rest[i]
		dst := &m.Triangles[i]
		*dst = *src

		dst.Vertex0 = skinPoint(src.Vertex0, &m.skin[i*3+0], jointMatrices)
		dst.Vertex1 = skinPoint(src.Vertex1, &m.skin[i*3+1], jointMatrices)
		dst.Vertex2 = skinPoint(src.Vertex2, &m.skin[i*3+2], jointMatrices)
		dst.Normal0 = common.Normalize3(skinVector(src.Normal0, &m.skin[i*3+0], jointMatrices))
		dst.Normal1 = common.Normalize3(skinVector(src.Normal1, &m.skin[i*3+1], jointMatrices))
		dst.Normal2 = common.Normalize3(skinVector(src.Normal2, &m.skin[i*3+2], jointMatrices))

		edge1 := common.Sub3(dst.Vertex1, dst.Vertex0)
		edge2 := common.Sub3(dst.Vertex2, dst.Vertex0)
		dst.GeoNormal = common.Normalize3(common.Cross3(edge1, edge2))
	}
	m.Refit()
}

func skinPoint(p [3]float32, w *VertexWeights, palette [][16]float32) [3]float32 {
	var out [3]float32
	for i := 0; i < 4; i++ {
		if w.Weights[i] == 0 {
			continue
		}
		m := palette[w.Joints[i]]
		tp := common.TransformPoint(m[:], p[0], p[1], p[2])
		out[0] += tp[0] * w.Weights[i]
		out[1] += tp[1] * w.Weights[i]
		out[2] += tp[2] * w.Weights[i]
	}
	return out
}

func skinVector(v [3]float32, w *VertexWeights, palette [][16]float32) [3]float32 {
	var out [3]float32
	for i := 0; i < 4; i++ {
		if w.Weights[i] == 0 {
			continue
		}
		m := palette[w.Joints[i]]
		tv := common.TransformVector(m[:], v[0], v[1], v[2])
		out[0] += tv[0] * w.Weights[i]
		out[1] += tv[1] * w.Weights[i]
		out[2] += tv[2] * w.Weights[i]
	}
	return out
}
