package bvh

import (
	"math/rand"
	"testing"
)

// checkLanes walks the collapsed tree and verifies that every lane either
// references a valid child node, a valid primitive range, or is empty, and
// that the primitive ranges cover the same index set as the source BVH.
func checkLanes(t *testing.T, m *MBVH, src *BVH) {
	t.Helper()

	covered := make(map[uint32]int)
	var walk func(nodeIdx int32)
	walk = func(nodeIdx int32) {
		if nodeIdx < 0 || int(nodeIdx) >= len(m.Nodes) {
			t.Fatalf("lane references node %d outside pool of %d", nodeIdx, len(m.Nodes))
		}
		node := &m.Nodes[nodeIdx]
		for lane := 0; lane < 4; lane++ {
			switch {
			case node.Counts[lane] == -1:
				walk(node.Children[lane])
			case node.Counts[lane] > 0:
				first := node.Children[lane]
				for i := first; i < first+node.Counts[lane]; i++ {
					covered[src.PrimIndices[i]]++
				}
			default:
				if node.Children[lane] != 0 {
					t.Fatalf("empty lane %d of node %d carries child %d", lane, nodeIdx, node.Children[lane])
				}
			}
		}
	}
	walk(0)

	if len(covered) != len(src.PrimIndices) {
		t.Fatalf("lanes cover %d primitives, want %d", len(covered), len(src.PrimIndices))
	}
	for id, n := range covered {
		if n != 1 {
			t.Fatalf("primitive %d covered %d times, want exactly once", id, n)
		}
	}
}

func TestMBVHCollapseCoversAllPrimitives(t *testing.T) {
	for _, count := range []int{1, 2, 3, 4, 5, 6, 7, 50, 500} {
		aabbs, centroids := randomBoxes(t, count, int64(100+count))
		src := NewBVH(aabbs, centroids)
		m := NewMBVH(src)
		checkLanes(t, m, src)
	}
}

func TestMBVHSingleLeafRoot(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 3, 31)
	src := NewBVH(aabbs, centroids) // 3 <= leaf threshold, root stays a leaf
	if !src.Nodes[0].IsLeaf() {
		t.Fatal("expected a leaf root for 3 primitives")
	}
	m := NewMBVH(src)
	if len(m.Nodes) != 1 {
		t.Fatalf("collapse of a leaf root produced %d nodes, want 1", len(m.Nodes))
	}
	if m.Nodes[0].Counts[0] != 3 {
		t.Fatalf("lane 0 count = %d, want 3", m.Nodes[0].Counts[0])
	}
	for lane := 1; lane < 4; lane++ {
		if m.Nodes[0].Counts[lane] != 0 {
			t.Fatalf("lane %d of a wrapped leaf is not empty", lane)
		}
	}
}

func TestMBVHEmptyTree(t *testing.T) {
	src := NewBVH(nil, nil)
	m := NewMBVH(src)
	_, _, hit := m.Traverse(src.PrimIndices,
		[3]float32{0, 0, 0},
		[3]float32{0, 0, 1},
		1e30,
		func(uint32, float32) (float32, bool) { return 0, false },
	)
	if hit {
		t.Fatal("traversal of an empty collapsed tree reported a hit")
	}
}

func TestMBVHTraverseMatchesBVH(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 400, 37)
	src := NewBVH(aabbs, centroids)
	m := NewMBVH(src)

	rng := rand.New(rand.NewSource(41))
	for i := 0; i < 200; i++ {
		origin := [3]float32{rng.Float32()*140 - 20, rng.Float32()*140 - 20, rng.Float32()*140 - 20}
		direction := [3]float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		if direction == ([3]float32{0, 0, 0}) {
			direction = [3]float32{0, 0, 1}
		}

		wantID, wantT, wantHit := src.Traverse(origin, direction, 1e30, boxIntersector(aabbs, origin, direction))
		gotID, gotT, gotHit := m.Traverse(src.PrimIndices, origin, direction, 1e30, boxIntersector(aabbs, origin, direction))

		if gotHit != wantHit {
			t.Fatalf("ray %d: hit = %v, want %v", i, gotHit, wantHit)
		}
		if wantHit && (gotID != wantID || gotT != wantT) {
			t.Fatalf("ray %d: hit prim %d at %v, want prim %d at %v", i, gotID, gotT, wantID, wantT)
		}
	}
}

func TestMBVHRefitFromFollowsBounds(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 200, 43)
	src := NewBVH(aabbs, centroids)
	m := NewMBVH(src)

	moved := make([]AABB, len(aabbs))
	for i := range aabbs {
		moved[i] = aabbs[i]
		moved[i].Min[0] += 25
		moved[i].Max[0] += 25
	}
	src.Refit(moved)
	m.RefitFrom(src)

	checkLanes(t, m, src)

	// The refitted collapse must agree with the refitted source on hits.
	rng := rand.New(rand.NewSource(47))
	for i := 0; i < 100; i++ {
		origin := [3]float32{rng.Float32()*160 - 20, rng.Float32()*140 - 20, rng.Float32()*140 - 20}
		direction := [3]float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		if direction == ([3]float32{0, 0, 0}) {
			direction = [3]float32{1, 0, 0}
		}

		wantID, wantT, wantHit := src.Traverse(origin, direction, 1e30, boxIntersector(moved, origin, direction))
		gotID, gotT, gotHit := m.Traverse(src.PrimIndices, origin, direction, 1e30, boxIntersector(moved, origin, direction))

		if gotHit != wantHit {
			t.Fatalf("ray %d: hit = %v, want %v", i, gotHit, wantHit)
		}
		if wantHit && (gotID != wantID || gotT != wantT) {
			t.Fatalf("ray %d: hit prim %d at %v, want prim %d at %v", i, gotID, gotT, wantID, wantT)
		}
	}
}
