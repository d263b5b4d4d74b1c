package bvh

import (
	"math/rand"
	"reflect"
	"testing"
)

// randomBoxes builds a deterministic set of primitive bounds scattered in a
// [0, 100)^3 region, with edge lengths up to 4.
func randomBoxes(t *testing.T, count int, seed int64) ([]AABB, [][3]float32) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	aabbs := make([]AABB, count)
	centroids := make([][3]float32, count)
	for i := 0; i < count; i++ {
		box := NewAABB()
		min := [3]float32{
			rng.Float32() * 100,
			rng.Float32() * 100,
			rng.Float32() * 100,
		}
		box.Grow(min)
		box.Grow([3]float32{
			min[0] + rng.Float32()*4,
			min[1] + rng.Float32()*4,
			min[2] + rng.Float32()*4,
		})
		aabbs[i] = box
		centroids[i] = [3]float32{box.Center(0), box.Center(1), box.Center(2)}
	}
	return aabbs, centroids
}

// checkContainment walks the tree from the root and verifies that every
// child's bounds sit inside its parent's with a small tolerance, and that the
// primitive indices under the leaves form a permutation of 0..n-1.
func checkContainment(t *testing.T, tree *BVH, primCount int) {
	t.Helper()
	const slack = 1e-4

	seen := make(map[uint32]int)
	var walk func(nodeIdx int32)
	walk = func(nodeIdx int32) {
		node := &tree.Nodes[nodeIdx]
		if node.IsLeaf() {
			for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
				seen[tree.PrimIndices[i]]++
			}
			return
		}
		for _, childIdx := range []int32{node.LeftFirst, node.LeftFirst + 1} {
			child := &tree.Nodes[childIdx]
			for axis := 0; axis < 3; axis++ {
				if child.IsEmpty() {
					continue
				}
				if child.Min[axis] < node.Min[axis]-slack {
					t.Fatalf("node %d min[%d]=%v escapes parent %d min=%v", childIdx, axis, child.Min[axis], nodeIdx, node.Min[axis])
				}
				if child.Max[axis] > node.Max[axis]+slack {
					t.Fatalf("node %d max[%d]=%v escapes parent %d max=%v", childIdx, axis, child.Max[axis], nodeIdx, node.Max[axis])
				}
			}
			walk(childIdx)
		}
	}
	walk(0)

	if len(seen) != primCount {
		t.Fatalf("leaves reference %d distinct primitives, want %d", len(seen), primCount)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("primitive %d referenced %d times, want exactly once", id, n)
		}
	}
}

func TestBuildContainmentAndPermutation(t *testing.T) {
	for _, count := range []int{1, 2, 5, 6, 100, 1000} {
		aabbs, centroids := randomBoxes(t, count, int64(count))
		tree := NewBVH(aabbs, centroids)
		checkContainment(t, tree, count)
	}
}

func TestBuildDeterministic(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 500, 7)
	a := NewBVH(aabbs, centroids)
	b := NewBVH(aabbs, centroids)
	if !reflect.DeepEqual(a.Nodes, b.Nodes) {
		t.Fatal("two builds over identical input produced different node arrays")
	}
	if !reflect.DeepEqual(a.PrimIndices, b.PrimIndices) {
		t.Fatal("two builds over identical input produced different index arrays")
	}
}

func TestBuildEmptyInput(t *testing.T) {
	tree := NewBVH(nil, nil)
	if len(tree.Nodes) != 1 {
		t.Fatalf("empty build produced %d nodes, want 1", len(tree.Nodes))
	}
	root := tree.Nodes[0]
	if !root.IsLeaf() || root.Count != 0 {
		t.Fatalf("empty build root = %+v, want an empty leaf", root)
	}

	_, _, hit := tree.Traverse(
		[3]float32{0, 0, 0},
		[3]float32{0, 0, 1},
		1e30,
		func(uint32, float32) (float32, bool) { return 0, false },
	)
	if hit {
		t.Fatal("traversal of an empty tree reported a hit")
	}
}

func TestBuildSinglePrimitive(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 1, 3)
	tree := NewBVH(aabbs, centroids)
	root := tree.Nodes[0]
	if !root.IsLeaf() || root.Count != 1 {
		t.Fatalf("single primitive root = %+v, want a leaf of count 1", root)
	}
	if tree.PrimIndices[0] != 0 {
		t.Fatalf("PrimIndices = %v, want [0]", tree.PrimIndices)
	}
}

func TestRefitIdempotent(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 300, 11)
	tree := NewBVH(aabbs, centroids)

	tree.Refit(aabbs)
	first := make([]AABB, len(tree.Nodes))
	copy(first, tree.Nodes)

	tree.Refit(aabbs)
	if !reflect.DeepEqual(first, tree.Nodes) {
		t.Fatal("second refit with unchanged bounds moved node bounds")
	}
	checkContainment(t, tree, 300)
}

func TestRefitFollowsMovedPrimitives(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 200, 13)
	tree := NewBVH(aabbs, centroids)

	moved := make([]AABB, len(aabbs))
	for i := range aabbs {
		moved[i] = aabbs[i]
		moved[i].Min[1] += 50
		moved[i].Max[1] += 50
	}
	tree.Refit(moved)

	root := tree.Bounds()
	for i := range moved {
		for axis := 0; axis < 3; axis++ {
			if moved[i].Min[axis] < root.Min[axis]-1e-4 || moved[i].Max[axis] > root.Max[axis]+1e-4 {
				t.Fatalf("primitive %d escapes refitted root bounds", i)
			}
		}
	}
	checkContainment(t, tree, 200)
}

// boxIntersector intersects the ray against the primitive's own bounds,
// which is all these tests need to exercise ordering and pruning.
func boxIntersector(aabbs []AABB, origin, direction [3]float32) PrimIntersector {
	inv := invertDirection(direction)
	return func(primID uint32, tMax float32) (float32, bool) {
		return aabbs[primID].Intersect(origin, inv, tMax)
	}
}

// bruteForceClosest is the reference the traversals are checked against.
func bruteForceClosest(aabbs []AABB, origin, direction [3]float32) (uint32, float32, bool) {
	inv := invertDirection(direction)
	best := float32(1e30)
	bestID := uint32(0)
	hit := false
	for i := range aabbs {
		if t, ok := aabbs[i].Intersect(origin, inv, best); ok {
			best = t
			bestID = uint32(i)
			hit = true
		}
	}
	return bestID, best, hit
}

func TestTraverseMatchesBruteForce(t *testing.T) {
	aabbs, centroids := randomBoxes(t, 400, 17)
	tree := NewBVH(aabbs, centroids)

	rng := rand.New(rand.NewSource(19))
	for i := 0; i < 200; i++ {
		origin := [3]float32{rng.Float32()*140 - 20, rng.Float32()*140 - 20, rng.Float32()*140 - 20}
		direction := [3]float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		if direction == ([3]float32{0, 0, 0}) {
			direction = [3]float32{0, 0, 1}
		}

		wantID, wantT, wantHit := bruteForceClosest(aabbs, origin, direction)
		gotID, gotT, gotHit := tree.Traverse(origin, direction, 1e30, boxIntersector(aabbs, origin, direction))

		if gotHit != wantHit {
			t.Fatalf("ray %d: hit = %v, want %v", i, gotHit, wantHit)
		}
		if !wantHit {
			continue
		}
		if gotID != wantID || gotT != wantT {
			t.Fatalf("ray %d: hit prim %d at %v, want prim %d at %v", i, gotID, gotT, wantID, wantT)
		}
	}
}

func TestTopLevelSingleInstancePerLeaf(t *testing.T) {
	aabbs, _ := randomBoxes(t, 64, 23)
	tree := NewTopLevelBVH(aabbs)
	checkContainment(t, tree, 64)
}

func TestTopLevelEmptyScene(t *testing.T) {
	tree := NewTopLevelBVH(nil)
	if len(tree.Nodes) != 1 || !tree.Nodes[0].IsLeaf() || tree.Nodes[0].Count != 0 {
		t.Fatalf("empty scene top level = %+v, want a single empty leaf", tree.Nodes)
	}
}

func TestAABBArea(t *testing.T) {
	box := NewAABB()
	if got := box.Area(); got != 0 {
		t.Fatalf("empty box area = %v, want 0", got)
	}
	box.Grow([3]float32{0, 0, 0})
	box.Grow([3]float32{2, 3, 4})
	if got, want := box.Area(), float32(2*3+2*4+3*4); got != want {
		t.Fatalf("area = %v, want %v", got, want)
	}
}

func TestAABBTransformedBy(t *testing.T) {
	box := NewAABB()
	box.Grow([3]float32{-1, -1, -1})
	box.Grow([3]float32{1, 1, 1})

	translate := []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		5, 6, 7, 1,
	}
	moved := box.TransformedBy(translate)
	want := [3]float32{4, 5, 6}
	for axis := 0; axis < 3; axis++ {
		if diff := moved.Min[axis] - want[axis]; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("moved.Min[%d] = %v, want ~%v", axis, moved.Min[axis], want[axis])
		}
	}
}
