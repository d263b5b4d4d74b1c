package mesh

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// boxTriangles builds count disjoint quads stacked along Z.
func boxTriangles(count int) []Triangle {
	var tris []Triangle
	for i := 0; i < count/2; i++ {
		tris = append(tris, quadTriangles(float32(i))...)
	}
	if len(tris) < count {
		tris = append(tris, quadTriangles(float32(count))[0])
	}
	return tris[:count]
}

// checkDisjointOffsets verifies that all filled descriptors are contiguous in
// slot order and never overlap in any of the four shared ranges.
func checkDisjointOffsets(t *testing.T, descriptors []GPUMeshData, totals BufferTotals) {
	t.Helper()

	bvhCursor, mbvhCursor, triCursor, idxCursor := int32(0), int32(0), int32(0), int32(0)
	for i, d := range descriptors {
		if d.TriangleCount == 0 && d.BVHNodeCount == 0 {
			continue
		}
		if d.BVHOffset != bvhCursor {
			t.Fatalf("slot %d: BVH offset %d, want %d (gap or overlap)", i, d.BVHOffset, bvhCursor)
		}
		if d.TriangleOffset != triCursor {
			t.Fatalf("slot %d: triangle offset %d, want %d", i, d.TriangleOffset, triCursor)
		}
		if d.PrimIndexOffset != idxCursor {
			t.Fatalf("slot %d: prim index offset %d, want %d", i, d.PrimIndexOffset, idxCursor)
		}
		if d.MBVHOffset < mbvhCursor {
			t.Fatalf("slot %d: MBVH offset %d overlaps previous range ending at %d", i, d.MBVHOffset, mbvhCursor)
		}
		bvhCursor += d.BVHNodeCount
		triCursor += d.TriangleCount
		idxCursor += d.TriangleCount  // one index per triangle
		mbvhCursor = d.MBVHOffset + 1 // every filled mesh has at least one node
	}
	if int(bvhCursor) != totals.BVHNodes {
		t.Fatalf("BVH total = %d, descriptors cover %d", totals.BVHNodes, bvhCursor)
	}
	if int(triCursor) != totals.Triangles {
		t.Fatalf("triangle total = %d, descriptors cover %d", totals.Triangles, triCursor)
	}
	if int(idxCursor) != totals.PrimIndices {
		t.Fatalf("prim index total = %d, descriptors cover %d", totals.PrimIndices, idxCursor)
	}
}

func TestStoreOffsetsDisjoint(t *testing.T) {
	s := NewStore()
	s.SetMesh(0, boxTriangles(16))
	s.SetMesh(1, boxTriangles(64))
	s.SetMesh(2, boxTriangles(6))
	s.SetAnimatedMesh(0, boxTriangles(32), nil)

	if got := s.RebuildDirty(nil); got != 4 {
		t.Fatalf("RebuildDirty = %d, want 4", got)
	}
	descriptors, totals := s.ComputeOffsets()
	if len(descriptors) != 4 {
		t.Fatalf("descriptor count = %d, want 4", len(descriptors))
	}
	checkDisjointOffsets(t, descriptors, totals)

	// Animated slot 0 flattens after all static slots.
	anim := descriptors[3]
	if anim.TriangleCount != 32 {
		t.Fatalf("flattened animated descriptor triangle count = %d, want 32", anim.TriangleCount)
	}
	if anim.TriangleOffset != 16+64+6 {
		t.Fatalf("animated triangle offset = %d, want %d", anim.TriangleOffset, 16+64+6)
	}
}

func TestStoreRemovalShiftsOffsets(t *testing.T) {
	s := NewStore()
	s.SetMesh(0, boxTriangles(10))
	s.SetMesh(1, boxTriangles(20))
	s.SetMesh(2, boxTriangles(30))
	s.RebuildDirty(nil)
	before, _ := s.ComputeOffsets()

	// Removing slot 1 (an empty mesh) must shift slot 2 left by slot 1's
	// previous extent.
	s.SetMesh(1, nil)
	s.RebuildDirty(nil)
	after, totals := s.ComputeOffsets()
	checkDisjointOffsets(t, after, totals)

	if after[1].TriangleCount != 0 || after[1].BVHNodeCount != 0 {
		t.Fatalf("removed slot still has extent: %+v", after[1])
	}
	if after[2].TriangleOffset != before[2].TriangleOffset-before[1].TriangleCount {
		t.Fatalf("slot 2 triangle offset = %d, want %d",
			after[2].TriangleOffset, before[2].TriangleOffset-before[1].TriangleCount)
	}
	if after[2].BVHOffset != before[2].BVHOffset-before[1].BVHNodeCount {
		t.Fatalf("slot 2 BVH offset = %d, want %d",
			after[2].BVHOffset, before[2].BVHOffset-before[1].BVHNodeCount)
	}
	if after[2].TriangleCount != before[2].TriangleCount {
		t.Fatal("surviving mesh extent changed on removal of a neighbor")
	}
}

func TestStoreParallelRebuildMatchesInline(t *testing.T) {
	build := func(pool worker.DynamicWorkerPool) ([]GPUMeshData, BufferTotals) {
		s := NewStore()
		for i := 0; i < 8; i++ {
			s.SetMesh(i, boxTriangles(8+i*6))
		}
		s.RebuildDirty(pool)
		return s.ComputeOffsets()
	}

	pool := worker.NewDynamicWorkerPool(4, 64, 100*time.Millisecond)
	gotDesc, gotTotals := build(pool)
	wantDesc, wantTotals := build(nil)

	if gotTotals != wantTotals {
		t.Fatalf("parallel totals %+v differ from inline %+v", gotTotals, wantTotals)
	}
	for i := range wantDesc {
		if gotDesc[i] != wantDesc[i] {
			t.Fatalf("slot %d: parallel descriptor %+v differs from inline %+v", i, gotDesc[i], wantDesc[i])
		}
	}
}

func TestStoreDirtyTracking(t *testing.T) {
	s := NewStore()
	s.SetMesh(0, boxTriangles(4))
	if got := s.RebuildDirty(nil); got != 1 {
		t.Fatalf("first rebuild = %d, want 1", got)
	}
	if got := s.RebuildDirty(nil); got != 0 {
		t.Fatalf("clean store rebuild = %d, want 0", got)
	}

	s.SetAnimatedMesh(0, quadTriangles(0), []VertexWeights{
		{Weights: [4]float32{1}}, {Weights: [4]float32{1}}, {Weights: [4]float32{1}},
		{Weights: [4]float32{1}}, {Weights: [4]float32{1}}, {Weights: [4]float32{1}},
	})
	if got := s.RebuildDirty(nil); got != 1 {
		t.Fatalf("animated rebuild = %d, want 1", got)
	}

	translate := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 5, 1}
	if !s.PoseAnimatedMesh(0, [][16]float32{translate}) {
		t.Fatal("PoseAnimatedMesh rejected a filled slot")
	}
	if got := s.RebuildDirty(nil); got != 1 {
		t.Fatalf("posed refit = %d, want 1", got)
	}
	bounds := s.AnimatedMeshAt(0).Bounds()
	if bounds.Min[2] < 4.9 || bounds.Max[2] > 5.1 {
		t.Fatalf("posed bounds z = [%v, %v], want ~[5, 5]", bounds.Min[2], bounds.Max[2])
	}

	if s.PoseAnimatedMesh(3, nil) {
		t.Fatal("PoseAnimatedMesh accepted an unfilled slot")
	}
}

func TestStoreNeverFilledLookups(t *testing.T) {
	s := NewStore()
	if s.HasStatic(0) || s.HasAnimated(0) {
		t.Fatal("empty store reports filled slots")
	}
	s.SetMesh(2, boxTriangles(4))
	if s.HasStatic(0) {
		t.Fatal("growing the slot array marked intermediate slots filled")
	}
	if !s.HasStatic(2) {
		t.Fatal("filled slot not reported")
	}
}
