package mesh

import (
	"testing"
)

// quadTriangles builds a unit quad in the XY plane at the given Z, facing -Z.
func quadTriangles(z float32) []Triangle {
	a := [3]float32{0, 0, z}
	b := [3]float32{1, 0, z}
	c := [3]float32{1, 1, z}
	d := [3]float32{0, 1, z}
	n := [3]float32{0, 0, -1}
	return []Triangle{
		{Vertex0: a, Vertex1: b, Vertex2: c, Normal0: n, Normal1: n, Normal2: n, GeoNormal: n},
		{Vertex0: a, Vertex1: c, Vertex2: d, Normal0: n, Normal1: n, Normal2: n, GeoNormal: n},
	}
}

func TestTriangleIntersect(t *testing.T) {
	tri := Triangle{
		Vertex0: [3]float32{-1, -1, 5},
		Vertex1: [3]float32{1, -1, 5},
		Vertex2: [3]float32{0, 1, 5},
	}

	dist, hit := tri.Intersect([3]float32{0, 0, 0}, [3]float32{0, 0, 1}, 1e30)
	if !hit {
		t.Fatal("ray through the triangle center missed")
	}
	if dist < 4.99 || dist > 5.01 {
		t.Fatalf("hit distance = %v, want ~5", dist)
	}

	if _, hit := tri.Intersect([3]float32{5, 5, 0}, [3]float32{0, 0, 1}, 1e30); hit {
		t.Fatal("ray far outside the triangle reported a hit")
	}

	// A hit behind tMax must be rejected.
	if _, hit := tri.Intersect([3]float32{0, 0, 0}, [3]float32{0, 0, 1}, 3); hit {
		t.Fatal("hit beyond tMax was not rejected")
	}
}

func TestSingleTriangleMeshTraversal(t *testing.T) {
	tris := []Triangle{{
		Vertex0: [3]float32{-1, -1, 2},
		Vertex1: [3]float32{1, -1, 2},
		Vertex2: [3]float32{0, 1, 2},
	}}
	m := NewMesh(tris)

	prim, dist, hit := m.Intersect([3]float32{0, 0, 0}, [3]float32{0, 0, 1}, 1e30)
	if !hit {
		t.Fatal("single triangle mesh missed a centered ray")
	}
	if prim != 0 {
		t.Fatalf("hit prim %d, want 0", prim)
	}
	if dist < 1.99 || dist > 2.01 {
		t.Fatalf("hit distance = %v, want ~2", dist)
	}

	if _, _, hit := m.Intersect([3]float32{0, 0, 0}, [3]float32{0, 0, -1}, 1e30); hit {
		t.Fatal("ray pointing away from the triangle reported a hit")
	}
}

func TestEmptyMesh(t *testing.T) {
	m := NewMesh(nil)
	if _, _, hit := m.Intersect([3]float32{0, 0, 0}, [3]float32{0, 0, 1}, 1e30); hit {
		t.Fatal("empty mesh reported a hit")
	}
	m.Refit() // must not panic
}

func TestMeshRefitFollowsTriangles(t *testing.T) {
	tris := quadTriangles(3)
	m := NewMesh(tris)

	before := m.Bounds()
	for i := range m.Triangles {
		m.Triangles[i].Vertex0[2] += 10
		m.Triangles[i].Vertex1[2] += 10
		m.Triangles[i].Vertex2[2] += 10
	}
	m.Refit()
	after := m.Bounds()

	if after.Min[2] <= before.Min[2] {
		t.Fatalf("refit did not follow moved geometry: min z %v -> %v", before.Min[2], after.Min[2])
	}

	_, dist, hit := m.Intersect([3]float32{0.5, 0.5, 0}, [3]float32{0, 0, 1}, 1e30)
	if !hit {
		t.Fatal("refitted mesh missed a ray through its center")
	}
	if dist < 12.99 || dist > 13.01 {
		t.Fatalf("hit distance = %v, want ~13", dist)
	}
}

func TestAnimatedMeshSkin(t *testing.T) {
	tris := quadTriangles(0)
	skin := make([]VertexWeights, len(tris)*3)
	for i := range skin {
		skin[i] = VertexWeights{Joints: [4]uint16{0}, Weights: [4]float32{1, 0, 0, 0}}
	}
	m := NewAnimatedMesh(tris, skin)

	translate := [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 8, 1,
	}
	m.Skin([][16]float32{translate})

	bounds := m.Bounds()
	if bounds.Min[2] < 7.9 || bounds.Max[2] > 8.1 {
		t.Fatalf("skinned bounds z = [%v, %v], want ~[8, 8]", bounds.Min[2], bounds.Max[2])
	}

	// Skinning with an identity palette must restore the rest pose.
	identity := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	m.Skin([][16]float32{identity})
	bounds = m.Bounds()
	if bounds.Min[2] < -0.1 || bounds.Max[2] > 0.1 {
		t.Fatalf("identity skin did not restore the rest pose: z = [%v, %v]", bounds.Min[2], bounds.Max[2])
	}
}
