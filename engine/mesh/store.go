package mesh

import (
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotClean
	slotDirtyBuild
	slotDirtyRefit
)

type meshSlot struct {
	pending     []Triangle
	pendingSkin []VertexWeights
	pose        [][16]float32
	mesh        *Mesh
	anim        *AnimatedMesh
	state       slotState
}

// Store owns every mesh in the scene, static and animated, and the offset
// bookkeeping that packs their acceleration data into the four shared scene
// buffers. Slots are tri-state: empty, filled, or dirty (pending a rebuild or
// a skinning refit). Setting an empty triangle list is how a mesh is removed;
// the slot stays valid and successors shift left on the next offset pass.
type Store struct {
	mu          *sync.Mutex
	static      []meshSlot
	animated    []meshSlot
	descriptors []GPUMeshData
}

// NewStore creates an empty mesh store.
//
// Returns:
//   - *Store: the new store
func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}}
}

// SetMesh fills (or replaces, or with an empty list removes) a static mesh
// slot. The slot array grows to fit the id. The build itself is deferred to
// RebuildDirty so a batch of SetMesh calls pays for construction once, in
// parallel.
//
// Parameters:
//   - id: static mesh slot
//   - triangles: mesh geometry; empty means the slot holds an empty mesh
func (s *Store) SetMesh(id int, triangles []Triangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id >= len(s.static) {
		s.static = append(s.static, meshSlot{})
	}
	s.static[id] = meshSlot{pending: triangles, state: slotDirtyBuild}
}

// SetAnimatedMesh fills an animated mesh slot with rest-pose geometry and its
// skinning influences.
//
// Parameters:
//   - id: animated mesh slot
//   - triangles: rest-pose geometry; empty means the slot holds an empty mesh
//   - skin: three influence entries per triangle; may be nil
func (s *Store) SetAnimatedMesh(id int, triangles []Triangle, skin []VertexWeights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id >= len(s.animated) {
		s.animated = append(s.animated, meshSlot{})
	}
	s.animated[id] = meshSlot{pending: triangles, pendingSkin: skin, state: slotDirtyBuild}
}

// PoseAnimatedMesh queues a joint palette for an animated mesh. The skinning
// itself runs during RebuildDirty; a posed mesh only needs its hierarchies
// refitted since the topology never changes.
//
// Parameters:
//   - id: animated mesh slot, must already be filled
//   - jointMatrices: 4x4 column-major joint palette
//
// Returns:
//   - bool: false when the slot does not exist or is empty
func (s *Store) PoseAnimatedMesh(id int, jointMatrices [][16]float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.animated) || s.animated[id].state == slotEmpty {
		return false
	}
	slot := &s.animated[id]
	slot.pose = jointMatrices
	if slot.state == slotClean {
		slot.state = slotDirtyRefit
	}
	return true
}

// HasStatic reports whether a static slot has ever been filled.
func (s *Store) HasStatic(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id >= 0 && id < len(s.static) && s.static[id].state != slotEmpty
}

// HasAnimated reports whether an animated slot has ever been filled.
func (s *Store) HasAnimated(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id >= 0 && id < len(s.animated) && s.animated[id].state != slotEmpty
}

// StaticCount returns the static slot count. Animated mesh ids are offset by
// this value when the two slot arrays flatten into the shared descriptor
// buffer.
func (s *Store) StaticCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.static)
}

// AnimatedCount returns the animated slot count.
func (s *Store) AnimatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.animated)
}

// StaticMesh returns the built mesh in a static slot, or nil.
func (s *Store) StaticMesh(id int) *Mesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.static) {
		return nil
	}
	return s.static[id].mesh
}

// AnimatedMeshAt returns the built mesh in an animated slot, or nil.
func (s *Store) AnimatedMeshAt(id int) *AnimatedMesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.animated) {
		return nil
	}
	return s.animated[id].anim
}

// RebuildDirty builds or refits every dirty slot, one pool task per mesh.
// Builds across meshes are independent, so the pool runs them concurrently
// while a WaitGroup provides the completion barrier.
//
// Parameters:
//   - pool: the shared worker pool; nil runs the work inline
//
// Returns:
//   - int: the number of slots that were rebuilt or refitted
func (s *Store) RebuildDirty(pool worker.DynamicWorkerPool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wg sync.WaitGroup
	constructed := 0
	taskID := 0

	run := func(do func()) {
		if pool == nil {
			do()
			return
		}
		wg.Add(1)
		id := taskID
		taskID++
		pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				do()
				return nil, nil
			},
		})
	}

	for i := range s.static {
		slot := &s.static[i]
		if slot.state != slotDirtyBuild {
			continue
		}
		constructed++
		slotCap := slot
		run(func() {
			slotCap.mesh = NewMesh(slotCap.pending)
			slotCap.pending = nil
			slotCap.state = slotClean
		})
	}

	for i := range s.animated {
		slot := &s.animated[i]
		if slot.state != slotDirtyBuild && slot.state != slotDirtyRefit {
			continue
		}
		constructed++
		slotCap := slot
		run(func() {
			if slotCap.state == slotDirtyBuild {
				slotCap.anim = NewAnimatedMesh(slotCap.pending, slotCap.pendingSkin)
				slotCap.mesh = &slotCap.anim.Mesh
				slotCap.pending = nil
				slotCap.pendingSkin = nil
			}
			if slotCap.pose != nil {
				slotCap.anim.Skin(slotCap.pose)
				slotCap.pose = nil
			}
			slotCap.state = slotClean
		})
	}

	wg.Wait()
	return constructed
}

// BufferTotals carries the element counts of the four shared scene buffers
// after an offset pass, so the caller can size them before copying.
type BufferTotals struct {
	BVHNodes    int
	MBVHNodes   int
	Triangles   int
	PrimIndices int
}

// ComputeOffsets assigns every filled mesh contiguous, non-overlapping ranges
// in the shared buffers, walking static slots first and animated slots
// second. Ranges are assigned in slot order, so removing a mesh shifts every
// successor left on the next pass. Empty slots get zero descriptors.
//
// Returns:
//   - []GPUMeshData: one descriptor per slot, static then animated
//   - BufferTotals: total element counts for buffer sizing
func (s *Store) ComputeOffsets() ([]GPUMeshData, BufferTotals) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totals BufferTotals
	descriptors := make([]GPUMeshData, len(s.static)+len(s.animated))

	assign := func(flat int, m *Mesh) {
		// Removed meshes (empty triangle lists) keep a zero descriptor so
		// successors pack tight.
		if m == nil || len(m.Triangles) == 0 {
			return
		}
		descriptors[flat] = GPUMeshData{
			BVHOffset:       int32(totals.BVHNodes),
			BVHNodeCount:    int32(len(m.Tree.Nodes)),
			TriangleOffset:  int32(totals.Triangles),
			TriangleCount:   int32(len(m.Triangles)),
			PrimIndexOffset: int32(totals.PrimIndices),
			MBVHOffset:      int32(totals.MBVHNodes),
		}
		totals.BVHNodes += len(m.Tree.Nodes)
		totals.MBVHNodes += len(m.Wide.Nodes)
		totals.Triangles += len(m.Triangles)
		totals.PrimIndices += len(m.Tree.PrimIndices)
	}

	for i := range s.static {
		assign(i, s.static[i].mesh)
	}
	for i := range s.animated {
		assign(len(s.static)+i, s.animated[i].mesh)
	}

	s.descriptors = descriptors
	return descriptors, totals
}

// Descriptors returns the descriptor array from the last offset pass.
func (s *Store) Descriptors() []GPUMeshData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptors
}

// Descriptor returns the shared-buffer placement of one flattened mesh id
// (static ids first, then animated ids offset by StaticCount).
//
// Parameters:
//   - flatID: flattened mesh id
//
// Returns:
//   - GPUMeshData: the descriptor; zero value for out-of-range or empty slots
func (s *Store) Descriptor(flatID int) GPUMeshData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flatID < 0 || flatID >= len(s.descriptors) {
		return GPUMeshData{}
	}
	return s.descriptors[flatID]
}

// ForEachFilled visits every built mesh together with its descriptor from the
// last offset pass, in flattened id order. Used to copy mesh data into the
// shared buffers at the assigned offsets.
//
// Parameters:
//   - fn: callback receiving the flattened id, the mesh, and its descriptor
func (s *Store) ForEachFilled(fn func(flatID int, m *Mesh, desc GPUMeshData)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.static {
		if m := s.static[i].mesh; m != nil && len(m.Triangles) > 0 {
			fn(i, m, s.descriptors[i])
		}
	}
	for i := range s.animated {
		if m := s.animated[i].mesh; m != nil && len(m.Triangles) > 0 {
			flat := len(s.static) + i
			fn(flat, m, s.descriptors[flat])
		}
	}
}
