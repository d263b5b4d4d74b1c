// package instance maps scene objects onto meshes: each instance pairs a
// mesh reference with a world transform, and the table flattens them into the
// GPU records and world-space bounds the top-level hierarchy is built over.
package instance

import (
	"fmt"
	"sync"

	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/bvh"
	"github.com/lumen-rt/lumen/engine/mesh"
)

// RefKind distinguishes the two mesh slot arrays an instance can point into.
type RefKind int

const (
	// RefStatic references a static mesh slot.
	RefStatic RefKind = iota
	// RefAnimated references an animated mesh slot. Animated ids are offset
	// by the static slot count when flattened for the GPU.
	RefAnimated
)

// ObjectRef identifies the mesh an instance renders.
type ObjectRef struct {
	Kind   RefKind
	MeshID int
}

// StaticRef returns a reference to a static mesh slot.
func StaticRef(meshID int) ObjectRef {
	return ObjectRef{Kind: RefStatic, MeshID: meshID}
}

// AnimatedRef returns a reference to an animated mesh slot.
func AnimatedRef(meshID int) ObjectRef {
	return ObjectRef{Kind: RefAnimated, MeshID: meshID}
}

// Instance pairs a mesh reference with a 4x4 column-major world transform.
type Instance struct {
	Ref       ObjectRef
	Transform [16]float32
}

type instanceSlot struct {
	inst   Instance
	filled bool
}

// Table holds the scene's instances. Slots grow on demand; setting a slot
// validates the mesh reference against the store immediately, so a dangling
// reference is caught at the call site instead of surfacing as a bad GPU
// record frames later.
type Table struct {
	mu      *sync.Mutex
	store   *mesh.Store
	slots   []instanceSlot
	changed bool
}

// NewTable creates an instance table bound to a mesh store.
//
// Parameters:
//   - store: the store instance references are validated against
//
// Returns:
//   - *Table: the new table
func NewTable(store *mesh.Store) *Table {
	return &Table{mu: &sync.Mutex{}, store: store}
}

// Set fills (or replaces) an instance slot. Referencing a mesh slot that has
// never been filled is a programmer error and fails fast.
//
// Parameters:
//   - id: instance slot, grows the table as needed
//   - ref: the mesh the instance renders
//   - transform: 4x4 column-major world transform
//
// Returns:
//   - error: non-nil when the mesh reference is invalid
func (t *Table) Set(id int, ref ObjectRef, transform [16]float32) error {
	if id < 0 {
		return fmt.Errorf("instance id %d is negative", id)
	}
	switch ref.Kind {
	case RefStatic:
		if !t.store.HasStatic(ref.MeshID) {
			return fmt.Errorf("instance %d references static mesh %d which has never been set", id, ref.MeshID)
		}
	case RefAnimated:
		if !t.store.HasAnimated(ref.MeshID) {
			return fmt.Errorf("instance %d references animated mesh %d which has never been set", id, ref.MeshID)
		}
	default:
		return fmt.Errorf("instance %d has unknown reference kind %d", id, ref.Kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id >= len(t.slots) {
		t.slots = append(t.slots, instanceSlot{})
	}
	t.slots[id] = instanceSlot{inst: Instance{Ref: ref, Transform: transform}, filled: true}
	t.changed = true
	return nil
}

// SetTransform updates only the transform of an already-filled slot.
//
// Parameters:
//   - id: instance slot
//   - transform: 4x4 column-major world transform
//
// Returns:
//   - error: non-nil when the slot has never been filled
func (t *Table) SetTransform(id int, transform [16]float32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].filled {
		return fmt.Errorf("instance %d has never been set", id)
	}
	t.slots[id].inst.Transform = transform
	t.changed = true
	return nil
}

// Count returns the slot count.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Changed reports whether any slot was touched since the last ClearChanged.
func (t *Table) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// ClearChanged resets the change flag after a synchronize pass consumed the
// table.
func (t *Table) ClearChanged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = false
}

// AnimatedMeshIDs returns the animated mesh slots referenced by at least one
// filled instance, in ascending order without duplicates. Synchronize skins
// exactly these meshes.
//
// Returns:
//   - []int: referenced animated mesh ids
func (t *Table) AnimatedMeshIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[int]bool)
	var ids []int
	for i := range t.slots {
		slot := &t.slots[i]
		if !slot.filled || slot.inst.Ref.Kind != RefAnimated {
			continue
		}
		if !seen[slot.inst.Ref.MeshID] {
			seen[slot.inst.Ref.MeshID] = true
			ids = append(ids, slot.inst.Ref.MeshID)
		}
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// Flatten resolves every slot into its GPU record and world-space bounds.
// Animated mesh ids are offset by the static slot count, matching the shared
// descriptor buffer the store packs. Unfilled slots and instances of
// currently-empty meshes produce zero records with empty bounds, which the
// top-level builder skips naturally.
//
// Returns:
//   - []GPUInstanceData: one record per slot
//   - []bvh.AABB: one world-space bound per slot
func (t *Table) Flatten() ([]GPUInstanceData, []bvh.AABB) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]GPUInstanceData, len(t.slots))
	bounds := make([]bvh.AABB, len(t.slots))

	for i := range t.slots {
		bounds[i] = bvh.NewAABB()
		slot := &t.slots[i]
		if !slot.filled {
			continue
		}

		flatID := slot.inst.Ref.MeshID
		var m *mesh.Mesh
		if slot.inst.Ref.Kind == RefAnimated {
			flatID += t.store.StaticCount()
			if anim := t.store.AnimatedMeshAt(slot.inst.Ref.MeshID); anim != nil {
				m = &anim.Mesh
			}
		} else {
			m = t.store.StaticMesh(slot.inst.Ref.MeshID)
		}
		if m == nil || len(m.Triangles) == 0 {
			continue
		}

		desc := t.store.Descriptor(flatID)
		rec := GPUInstanceData{
			BVHOffset:       desc.BVHOffset,
			MBVHOffset:      desc.MBVHOffset,
			TriangleOffset:  desc.TriangleOffset,
			PrimIndexOffset: desc.PrimIndexOffset,
			Matrix:          slot.inst.Transform,
		}
		if !common.Invert4(rec.InverseMatrix[:], slot.inst.Transform[:]) {
			common.Identity(rec.InverseMatrix[:])
		}
		common.Transpose4(rec.NormalMatrix[:], rec.InverseMatrix[:])
		records[i] = rec

		meshBounds := m.Bounds()
		bounds[i] = meshBounds.TransformedBy(slot.inst.Transform[:])
	}

	return records, bounds
}

// Intersect traverses the two-level structure on the CPU: the supplied
// top-level hierarchy over the flattened bounds, then each hit instance's
// mesh hierarchy with the ray transformed into object space. Used by tests
// and debug picking; the kernels implement the same walk on the GPU.
//
// Parameters:
//   - top: top-level hierarchy built over the bounds from Flatten
//   - origin: world-space ray origin
//   - direction: world-space ray direction
//   - tMax: maximum hit distance
//
// Returns:
//   - int: instance slot of the closest hit (-1 when none)
//   - uint32: triangle index within the hit mesh
//   - float32: hit distance
//   - bool: true when anything was hit
func (t *Table) Intersect(top *bvh.BVH, origin, direction [3]float32, tMax float32) (int, uint32, float32, bool) {
	hitInstance := -1
	hitPrim := uint32(0)

	_, dist, hit := top.Traverse(origin, direction, tMax, func(instID uint32, max float32) (float32, bool) {
		t.mu.Lock()
		slot := t.slots[instID]
		t.mu.Unlock()
		if !slot.filled {
			return 0, false
		}

		var m *mesh.Mesh
		if slot.inst.Ref.Kind == RefAnimated {
			if anim := t.store.AnimatedMeshAt(slot.inst.Ref.MeshID); anim != nil {
				m = &anim.Mesh
			}
		} else {
			m = t.store.StaticMesh(slot.inst.Ref.MeshID)
		}
		if m == nil {
			return 0, false
		}

		var inverse [16]float32
		if !common.Invert4(inverse[:], slot.inst.Transform[:]) {
			return 0, false
		}
		localOrigin := common.TransformPoint(inverse[:], origin[0], origin[1], origin[2])
		localDir := common.TransformVector(inverse[:], direction[0], direction[1], direction[2])

		prim, d, ok := m.Intersect(localOrigin, localDir, max)
		if ok {
			hitInstance = int(instID)
			hitPrim = prim
		}
		return d, ok
	})

	if !hit {
		return -1, 0, 0, false
	}
	return hitInstance, hitPrim, dist, true
}
