package bvh

// MBVHNode is a 4-wide BVH node with bounds transposed into per-axis lanes so
// the traversal kernel tests all four child boxes with vector operations.
// Children[i] holds either a child node index (Counts[i] = -1), a first
// primitive index (Counts[i] >= 1), or 0 for an empty lane (Counts[i] = 0).
// Size: 128 bytes (std430 aligned).
type MBVHNode struct {
	MinX [4]float32 // offset  0
	MaxX [4]float32 // offset 16
	MinY [4]float32 // offset 32
	MaxY [4]float32 // offset 48
	MinZ [4]float32 // offset 64
	MaxZ [4]float32 // offset 80

	Children [4]int32 // offset  96: node index (-1 count), first primitive (count >= 1), or 0 (empty)
	Counts   [4]int32 // offset 112: -1 interior, >= 1 leaf primitive count, 0 empty lane
}

func newMBVHNode() MBVHNode {
	n := MBVHNode{}
	for i := 0; i < 4; i++ {
		n.MinX[i], n.MinY[i], n.MinZ[i] = 1e34, 1e34, 1e34
		n.MaxX[i], n.MaxY[i], n.MaxZ[i] = -1e34, -1e34, -1e34
	}
	return n
}

func (n *MBVHNode) setBounds(lane int, box *AABB) {
	n.MinX[lane], n.MinY[lane], n.MinZ[lane] = box.Min[0], box.Min[1], box.Min[2]
	n.MaxX[lane], n.MaxY[lane], n.MaxZ[lane] = box.Max[0], box.Max[1], box.Max[2]
}

// MBVH is the 4-wide collapse of a BVH. It shares the source hierarchy's
// primitive index order, so the two structures are uploaded side by side and
// kernels pick either traversal path.
type MBVH struct {
	Nodes []MBVHNode
}

// bvhRef points at one node of the source BVH during the collapse.
type bvhRef struct {
	index int32
}

// NewMBVH collapses a binary BVH into its 4-wide form by packing each node's
// grandchildren into the four lanes. A leaf child occupies one lane; when only
// three lanes fill, the first interior lane is expanded one more level to use
// the fourth. A BVH whose root is already a leaf is wrapped into a single
// node occupying one lane.
//
// Parameters:
//   - src: the binary hierarchy to collapse
//
// Returns:
//   - *MBVH: the collapsed hierarchy
func NewMBVH(src *BVH) *MBVH {
	root := &src.Nodes[0]
	if root.IsLeaf() {
		node := newMBVHNode()
		node.setBounds(0, root)
		node.Children[0] = root.LeftFirst
		node.Counts[0] = root.Count
		if root.Count == 0 {
			node.Children[0] = 0
		}
		return &MBVH{Nodes: []MBVHNode{node}}
	}

	m := &MBVH{Nodes: make([]MBVHNode, 0, len(src.Nodes))}
	m.Nodes = append(m.Nodes, newMBVHNode())
	m.merge(src, 0, 0)
	return m
}

// merge fills MBVH node mIndex from the children and grandchildren of BVH
// node bvhIndex, allocating and recursing for lanes that stay interior.
func (m *MBVH) merge(src *BVH, mIndex int, bvhIndex int32) {
	node := &src.Nodes[bvhIndex]
	leftIdx := node.LeftFirst
	rightIdx := node.LeftFirst + 1

	slots := make([]bvhRef, 0, 4)
	for _, childIdx := range []int32{leftIdx, rightIdx} {
		child := &src.Nodes[childIdx]
		if child.IsLeaf() {
			slots = append(slots, bvhRef{index: childIdx})
			continue
		}
		slots = append(slots, bvhRef{index: child.LeftFirst})
		slots = append(slots, bvhRef{index: child.LeftFirst + 1})
	}

	// With one leaf child only three lanes fill; expanding the first
	// interior lane one more level uses the fourth.
	if len(slots) == 3 {
		for i, ref := range slots {
			child := &src.Nodes[ref.index]
			if child.IsLeaf() {
				continue
			}
			expanded := make([]bvhRef, 0, 4)
			expanded = append(expanded, slots[:i]...)
			expanded = append(expanded, bvhRef{index: child.LeftFirst})
			expanded = append(expanded, bvhRef{index: child.LeftFirst + 1})
			expanded = append(expanded, slots[i+1:]...)
			slots = expanded
			break
		}
	}

	for lane, ref := range slots {
		child := &src.Nodes[ref.index]
		m.Nodes[mIndex].setBounds(lane, child)
		if child.IsLeaf() {
			m.Nodes[mIndex].Children[lane] = child.LeftFirst
			m.Nodes[mIndex].Counts[lane] = child.Count
			continue
		}
		childMIndex := len(m.Nodes)
		m.Nodes = append(m.Nodes, newMBVHNode())
		m.Nodes[mIndex].Children[lane] = int32(childMIndex)
		m.Nodes[mIndex].Counts[lane] = -1
		m.merge(src, childMIndex, ref.index)
	}
}

// RefitFrom copies refreshed bounds out of a refitted source BVH without
// changing the collapse topology. It re-runs the lane packing walk but only
// rewrites bounds, so it is cheap enough to run per frame for skinned meshes.
//
// Parameters:
//   - src: the source hierarchy after Refit
func (m *MBVH) RefitFrom(src *BVH) {
	root := &src.Nodes[0]
	if root.IsLeaf() {
		m.Nodes[0].setBounds(0, root)
		return
	}
	cursor := 0
	m.refitNode(src, &cursor, 0)
}

func (m *MBVH) refitNode(src *BVH, cursor *int, bvhIndex int32) {
	mIndex := *cursor
	node := &m.Nodes[mIndex]

	// The collapse allocates child nodes in depth-first lane order, so
	// replaying the same walk visits nodes in the same order.
	srcNode := &src.Nodes[bvhIndex]
	leftIdx := srcNode.LeftFirst
	rightIdx := srcNode.LeftFirst + 1

	slots := make([]bvhRef, 0, 4)
	for _, childIdx := range []int32{leftIdx, rightIdx} {
		child := &src.Nodes[childIdx]
		if child.IsLeaf() {
			slots = append(slots, bvhRef{index: childIdx})
			continue
		}
		slots = append(slots, bvhRef{index: child.LeftFirst})
		slots = append(slots, bvhRef{index: child.LeftFirst + 1})
	}
	if len(slots) == 3 {
		for i, ref := range slots {
			child := &src.Nodes[ref.index]
			if child.IsLeaf() {
				continue
			}
			expanded := make([]bvhRef, 0, 4)
			expanded = append(expanded, slots[:i]...)
			expanded = append(expanded, bvhRef{index: child.LeftFirst})
			expanded = append(expanded, bvhRef{index: child.LeftFirst + 1})
			expanded = append(expanded, slots[i+1:]...)
			slots = expanded
			break
		}
	}

	for lane, ref := range slots {
		child := &src.Nodes[ref.index]
		node.setBounds(lane, child)
		if child.IsLeaf() {
			continue
		}
		*cursor++
		m.refitNode(src, cursor, ref.index)
	}
}

// laneBox reconstructs the AABB of one lane for CPU traversal.
func (n *MBVHNode) laneBox(lane int) AABB {
	return AABB{
		Min: [3]float32{n.MinX[lane], n.MinY[lane], n.MinZ[lane]},
		Max: [3]float32{n.MaxX[lane], n.MaxY[lane], n.MaxZ[lane]},
	}
}

// Traverse walks the 4-wide hierarchy front to back and returns the closest
// primitive hit. Lane hits at each node are ordered near to far with the
// same 5-swap network the traversal kernel uses.
//
// Parameters:
//   - primIndices: the primitive index order of the source BVH
//   - origin: ray origin
//   - direction: ray direction (need not be normalized)
//   - tMax: maximum hit distance
//   - intersect: primitive intersection callback
//
// Returns:
//   - uint32: primitive id of the closest hit
//   - float32: hit distance
//   - bool: true when anything was hit
func (m *MBVH) Traverse(primIndices []uint32, origin, direction [3]float32, tMax float32, intersect PrimIntersector) (uint32, float32, bool) {
	dirInverse := invertDirection(direction)

	hitID := uint32(0)
	hit := false

	var stack [maxDepth * 4]int32
	stackPtr := 0
	stack[0] = 0

	for stackPtr >= 0 {
		node := &m.Nodes[stack[stackPtr]]
		stackPtr--

		var lanes [4]int
		var dists [4]float32
		laneHits := 0
		for lane := 0; lane < 4; lane++ {
			if node.Counts[lane] == 0 && node.Children[lane] == 0 {
				continue
			}
			box := node.laneBox(lane)
			if t, ok := box.Intersect(origin, dirInverse, tMax); ok {
				lanes[laneHits] = lane
				dists[laneHits] = t
				laneHits++
			}
		}

		sortLaneHits(&lanes, &dists, laneHits)

		// Push far lanes first so the nearest pops next.
		for i := laneHits - 1; i >= 0; i-- {
			lane := lanes[i]
			if node.Counts[lane] == -1 {
				stackPtr++
				stack[stackPtr] = node.Children[lane]
				continue
			}
			first := node.Children[lane]
			for j := first; j < first+node.Counts[lane]; j++ {
				prim := primIndices[j]
				if dist, ok := intersect(prim, tMax); ok {
					tMax = dist
					hitID = prim
					hit = true
				}
			}
		}
	}

	return hitID, tMax, hit
}

// sortLaneHits orders the first n lane hits by ascending distance using a
// fixed swap network.
func sortLaneHits(lanes *[4]int, dists *[4]float32, n int) {
	swap := func(a, b int) {
		if dists[a] > dists[b] {
			dists[a], dists[b] = dists[b], dists[a]
			lanes[a], lanes[b] = lanes[b], lanes[a]
		}
	}
	switch n {
	case 4:
		swap(0, 1)
		swap(2, 3)
		swap(0, 2)
		swap(1, 3)
		swap(1, 2)
	case 3:
		swap(0, 1)
		swap(0, 2)
		swap(1, 2)
	case 2:
		swap(0, 1)
	}
}
