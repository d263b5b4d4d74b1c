package bvh

const (
	// defaultBinCount is the number of SAH bins used for per-mesh builds.
	defaultBinCount = 7
	// topLevelBinCount is the number of SAH bins used for the top-level
	// build over instance bounds, where the primitive count is small and a
	// finer sweep pays off.
	topLevelBinCount = 32
	// defaultLeafThreshold is the primitive count at or below which a node
	// is kept as a leaf without evaluating splits.
	defaultLeafThreshold = 5
	// maxDepth bounds recursion; it matches the traversal stack depth the
	// kernels allocate.
	maxDepth = 32
	// boundsEpsilon pads child bounds so refitted or transformed geometry
	// never escapes its node by floating point error.
	boundsEpsilon = 1e-6
)

// BVH is a binary bounding volume hierarchy in flat-array form. Nodes[0] is
// the root. Interior nodes store their left child index in LeftFirst (the
// right child is always LeftFirst+1) and Count = -1. Leaves store the first
// index into PrimIndices and the primitive count.
type BVH struct {
	Nodes       []AABB
	PrimIndices []uint32
}

// BuildOption configures a BVH build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	bins          int
	leafThreshold int
}

// WithBinCount overrides the number of SAH bins evaluated per axis.
//
// Parameters:
//   - bins: bin count, clamped to [1, 32]
func WithBinCount(bins int) BuildOption {
	return func(c *buildConfig) {
		if bins < 1 {
			bins = 1
		}
		if bins > topLevelBinCount {
			bins = topLevelBinCount
		}
		c.bins = bins
	}
}

// WithLeafThreshold overrides the primitive count at or below which a node
// is kept as a leaf without evaluating splits.
//
// Parameters:
//   - n: leaf threshold, clamped to >= 1
func WithLeafThreshold(n int) BuildOption {
	return func(c *buildConfig) {
		if n < 1 {
			n = 1
		}
		c.leafThreshold = n
	}
}

type builder struct {
	cfg       buildConfig
	aabbs     []AABB
	centroids [][3]float32
	nodes     []AABB
	indices   []uint32
	poolPtr   int
}

// NewBVH builds a BVH over a set of primitive bounds using binned SAH splits.
// The build is deterministic: identical inputs produce identical node and
// index arrays. A split is only taken when its SAH cost strictly improves on
// the parent's cost; ties keep the node a leaf. An empty input produces a
// single empty leaf so downstream traversal and upload never special-case it.
//
// Parameters:
//   - aabbs: per-primitive bounds
//   - centroids: per-primitive centroids, len must equal len(aabbs)
//   - options: build overrides (bin count, leaf threshold)
//
// Returns:
//   - *BVH: the built hierarchy
func NewBVH(aabbs []AABB, centroids [][3]float32, options ...BuildOption) *BVH {
	cfg := buildConfig{bins: defaultBinCount, leafThreshold: defaultLeafThreshold}
	for _, opt := range options {
		opt(&cfg)
	}

	if len(aabbs) == 0 {
		root := NewAABB()
		root.LeftFirst = 0
		root.Count = 0
		return &BVH{Nodes: []AABB{root}, PrimIndices: nil}
	}

	b := &builder{
		cfg:       cfg,
		aabbs:     aabbs,
		centroids: centroids,
		nodes:     make([]AABB, len(aabbs)*2),
		indices:   make([]uint32, len(aabbs)),
	}
	for i := range b.indices {
		b.indices[i] = uint32(i)
	}

	root := NewAABB()
	for i := range aabbs {
		root.GrowBB(&aabbs[i])
	}
	root.LeftFirst = 0
	root.Count = int32(len(aabbs))
	b.nodes[0] = root
	b.poolPtr = 2 // slot 1 is skipped so sibling pairs share a cache line

	b.subdivide(0, 1)

	return &BVH{Nodes: b.nodes[:b.poolPtr], PrimIndices: b.indices}
}

func (b *builder) subdivide(nodeIdx, depth int) {
	node := &b.nodes[nodeIdx]
	if int(node.Count) <= b.cfg.leafThreshold || depth >= maxDepth {
		return
	}

	axis, splitPos, ok := b.partitionPlane(node)
	if !ok {
		return
	}

	first := int(node.LeftFirst)
	count := int(node.Count)

	// Deterministic in-place partition: scan left to right, swapping
	// left-side primitives into the prefix.
	left := first
	for i := first; i < first+count; i++ {
		if b.centroids[b.indices[i]][axis] <= splitPos {
			b.indices[left], b.indices[i] = b.indices[i], b.indices[left]
			left++
		}
	}
	leftCount := left - first
	if leftCount == 0 || leftCount == count {
		return
	}

	leftIdx := b.poolPtr
	rightIdx := b.poolPtr + 1
	b.poolPtr += 2

	b.nodes[leftIdx] = b.childBounds(first, leftCount)
	b.nodes[rightIdx] = b.childBounds(left, count-leftCount)

	node.LeftFirst = int32(leftIdx)
	node.Count = -1

	b.subdivide(leftIdx, depth+1)
	b.subdivide(rightIdx, depth+1)
}

// partitionPlane sweeps the binned candidate planes on all three axes and
// returns the cheapest one, or ok=false when no plane strictly beats keeping
// the node a leaf.
func (b *builder) partitionPlane(node *AABB) (int, float32, bool) {
	first := int(node.LeftFirst)
	count := int(node.Count)

	parentCost := node.Area() * float32(count)
	bestCost := parentCost
	bestAxis := -1
	var bestPos float32

	for axis := 0; axis < 3; axis++ {
		extent := node.Max[axis] - node.Min[axis]
		if extent <= 0 {
			continue
		}
		for i := 1; i <= b.cfg.bins+1; i++ {
			pos := node.Min[axis] + extent*float32(i)/float32(b.cfg.bins+2)

			leftBox := NewAABB()
			rightBox := NewAABB()
			leftCount := 0
			rightCount := 0
			for j := first; j < first+count; j++ {
				prim := b.indices[j]
				if b.centroids[prim][axis] <= pos {
					leftBox.GrowBB(&b.aabbs[prim])
					leftCount++
				} else {
					rightBox.GrowBB(&b.aabbs[prim])
					rightCount++
				}
			}
			cost := leftBox.Area()*float32(leftCount) + rightBox.Area()*float32(rightCount)
			if cost < bestCost {
				bestCost = cost
				bestAxis = axis
				bestPos = pos
			}
		}
	}

	if bestAxis < 0 {
		return 0, 0, false
	}
	return bestAxis, bestPos, true
}

func (b *builder) childBounds(first, count int) AABB {
	box := NewAABB()
	for i := first; i < first+count; i++ {
		box.GrowBB(&b.aabbs[b.indices[i]])
	}
	box.Offset(boundsEpsilon)
	box.LeftFirst = int32(first)
	box.Count = int32(count)
	return box
}

// Refit recomputes node bounds bottom-up from fresh primitive bounds while
// preserving the tree topology. Leaf bounds are rebuilt from their primitives
// and interior bounds from their children, so refitting twice with the same
// input yields identical bounds. Children are always allocated after their
// parent, which makes a single reverse sweep sufficient.
//
// Parameters:
//   - aabbs: per-primitive bounds, indexed the same way as at build time
func (t *BVH) Refit(aabbs []AABB) {
	for i := len(t.Nodes) - 1; i >= 0; i-- {
		node := &t.Nodes[i]
		if node.IsLeaf() {
			if node.Count == 0 {
				continue
			}
			box := NewAABB()
			for j := node.LeftFirst; j < node.LeftFirst+node.Count; j++ {
				box.GrowBB(&aabbs[t.PrimIndices[j]])
			}
			box.Offset(boundsEpsilon)
			node.Min = box.Min
			node.Max = box.Max
			continue
		}
		if node.LeftFirst < 0 {
			continue
		}
		left := &t.Nodes[node.LeftFirst]
		right := &t.Nodes[node.LeftFirst+1]
		box := left.Union(right)
		box.Offset(boundsEpsilon)
		node.Min = box.Min
		node.Max = box.Max
	}
}

// Bounds returns the root bounds of the hierarchy.
func (t *BVH) Bounds() AABB {
	return t.Nodes[0]
}

// PrimIntersector tests a ray against one primitive. It returns the hit
// distance and true when the primitive is hit closer than tMax.
type PrimIntersector func(primID uint32, tMax float32) (float32, bool)

// Traverse walks the hierarchy front to back and returns the closest
// primitive hit. Near children are visited first so the running tMax prunes
// the far subtree as early as possible.
//
// Parameters:
//   - origin: ray origin
//   - direction: ray direction (need not be normalized)
//   - tMax: maximum hit distance
//   - intersect: primitive intersection callback
//
// Returns:
//   - uint32: primitive id of the closest hit
//   - float32: hit distance
//   - bool: true when anything was hit
func (t *BVH) Traverse(origin, direction [3]float32, tMax float32, intersect PrimIntersector) (uint32, float32, bool) {
	dirInverse := invertDirection(direction)

	hitID := uint32(0)
	hit := false

	var stack [maxDepth * 2]int32
	stackPtr := 0
	stack[0] = 0

	for stackPtr >= 0 {
		node := &t.Nodes[stack[stackPtr]]
		stackPtr--

		if node.IsLeaf() {
			for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
				prim := t.PrimIndices[i]
				if dist, ok := intersect(prim, tMax); ok {
					tMax = dist
					hitID = prim
					hit = true
				}
			}
			continue
		}

		leftIdx := node.LeftFirst
		rightIdx := node.LeftFirst + 1
		tLeft, hitLeft := t.Nodes[leftIdx].Intersect(origin, dirInverse, tMax)
		tRight, hitRight := t.Nodes[rightIdx].Intersect(origin, dirInverse, tMax)

		switch {
		case hitLeft && hitRight:
			// Push the far child first so the near child pops next.
			if tLeft <= tRight {
				stackPtr++
				stack[stackPtr] = rightIdx
				stackPtr++
				stack[stackPtr] = leftIdx
			} else {
				stackPtr++
				stack[stackPtr] = leftIdx
				stackPtr++
				stack[stackPtr] = rightIdx
			}
		case hitLeft:
			stackPtr++
			stack[stackPtr] = leftIdx
		case hitRight:
			stackPtr++
			stack[stackPtr] = rightIdx
		}
	}

	return hitID, tMax, hit
}

func invertDirection(direction [3]float32) [3]float32 {
	var inv [3]float32
	for i := 0; i < 3; i++ {
		if direction[i] != 0 {
			inv[i] = 1.0 / direction[i]
		} else {
			inv[i] = 1e30
		}
	}
	return inv
}

// NewTopLevelBVH builds the scene-level hierarchy over instance world bounds.
// Each leaf holds a single instance where the SAH allows it; degenerate
// (empty) instance bounds are still indexed so leaf ids map one-to-one onto
// instance slots.
//
// Parameters:
//   - worldBounds: per-instance world-space bounds
//
// Returns:
//   - *BVH: the top-level hierarchy; PrimIndices order instances for upload
func NewTopLevelBVH(worldBounds []AABB) *BVH {
	centroids := make([][3]float32, len(worldBounds))
	for i := range worldBounds {
		centroids[i] = [3]float32{
			worldBounds[i].Center(0),
			worldBounds[i].Center(1),
			worldBounds[i].Center(2),
		}
	}
	return NewBVH(worldBounds, centroids,
		WithBinCount(topLevelBinCount),
		WithLeafThreshold(1),
	)
}
