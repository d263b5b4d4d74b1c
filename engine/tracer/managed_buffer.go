package tracer

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen-rt/lumen/common"
)

// ManagedBuffer is a growable typed GPU buffer with a CPU mirror. Writes land
// in the mirror and upload in one staged copy; growth over-allocates so
// steady-state frames never reallocate. Recreating the device buffer
// invalidates every bind group that referenced it, which the owner discovers
// through BindingsInvalid before the next dispatch.
type ManagedBuffer[T any] struct {
	label string
	usage wgpu.BufferUsage

	host []T

	buffer    *wgpu.Buffer
	bufferCap int // device capacity, elements

	dirty           bool
	bindingsInvalid bool
}

// NewManagedBuffer creates an empty managed buffer. CopyDst is always added
// to the usage since the mirror uploads through the queue.
//
// Parameters:
//   - label: debug label for the device buffer
//   - usage: buffer usage flags
//
// Returns:
//   - *ManagedBuffer[T]: the new buffer
func NewManagedBuffer[T any](label string, usage wgpu.BufferUsage) *ManagedBuffer[T] {
	return &ManagedBuffer[T]{
		label: label,
		usage: usage | wgpu.BufferUsageCopyDst,
	}
}

// ElementSize returns the size of one element in bytes.
func (m *ManagedBuffer[T]) ElementSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Len returns the mirror capacity in elements.
func (m *ManagedBuffer[T]) Len() int {
	return len(m.host)
}

// ByteSize returns the mirror capacity in bytes.
func (m *ManagedBuffer[T]) ByteSize() uint64 {
	return uint64(len(m.host)) * uint64(m.ElementSize())
}

// Reserve grows the mirror to hold at least n elements. Growth doubles the
// requested size so a sequence of small increases settles quickly; the mirror
// never shrinks. Any growth marks the buffer dirty and its bindings invalid,
// since the device buffer must be recreated at the new size.
//
// Parameters:
//   - n: required element count
func (m *ManagedBuffer[T]) Reserve(n int) {
	if n <= len(m.host) {
		return
	}
	grown := make([]T, n*2)
	copy(grown, m.host)
	m.host = grown
	m.dirty = true
	m.bindingsInvalid = true
}

// CopyFromSlice writes data at the start of the mirror. Writing past the
// mirror capacity is a programmer error: Reserve first.
//
// Parameters:
//   - data: elements to write
func (m *ManagedBuffer[T]) CopyFromSlice(data []T) {
	m.CopyFromSliceOffset(data, 0)
}

// CopyFromSliceOffset writes data into the mirror at an element offset.
// Writing past the mirror capacity is a programmer error: Reserve first.
//
// Parameters:
//   - data: elements to write
//   - offset: destination element offset
func (m *ManagedBuffer[T]) CopyFromSliceOffset(data []T, offset int) {
	if offset < 0 || offset+len(data) > len(m.host) {
		panic(fmt.Sprintf("managed buffer %q: write of %d elements at offset %d exceeds capacity %d",
			m.label, len(data), offset, len(m.host)))
	}
	copy(m.host[offset:], data)
	m.dirty = true
}

// Host returns the mirror for direct writes. Callers that mutate it must
// MarkDirty.
func (m *ManagedBuffer[T]) Host() []T {
	return m.host
}

// MarkDirty flags the mirror for upload on the next Update.
func (m *ManagedBuffer[T]) MarkDirty() {
	m.dirty = true
}

// Dirty reports whether the mirror has un-uploaded writes.
func (m *ManagedBuffer[T]) Dirty() bool {
	return m.dirty
}

// BindingsInvalid reports whether the device buffer was (or will be on the
// next Update) recreated since the last ClearBindingsInvalid, requiring
// dependent bind groups to be rebuilt.
func (m *ManagedBuffer[T]) BindingsInvalid() bool {
	return m.bindingsInvalid
}

// ClearBindingsInvalid acknowledges a bind group rebuild.
func (m *ManagedBuffer[T]) ClearBindingsInvalid() {
	m.bindingsInvalid = false
}

// Update pushes the mirror to the GPU when dirty, recreating the device
// buffer if the mirror outgrew it. No-op when clean and sized.
//
// Parameters:
//   - device: the device owning the buffer
//   - queue: the queue the upload is written through
//
// Returns:
//   - error: non-nil when buffer creation fails
func (m *ManagedBuffer[T]) Update(device *wgpu.Device, queue *wgpu.Queue) error {
	elems := len(m.host)
	if elems == 0 {
		// Bindings reject zero-sized buffers; keep one element resident.
		m.host = make([]T, 1)
		elems = 1
		m.dirty = true
	}

	if m.buffer == nil || m.bufferCap < elems {
		if m.buffer != nil {
			m.buffer.Release()
		}
		buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: m.label,
			Size:  m.ByteSize(),
			Usage: m.usage,
		})
		if err != nil {
			return fmt.Errorf("managed buffer %q: create at %d bytes: %w", m.label, m.ByteSize(), err)
		}
		m.buffer = buf
		m.bufferCap = elems
		m.bindingsInvalid = true
		m.dirty = true
	}

	if m.dirty {
		queue.WriteBuffer(m.buffer, 0, common.SliceToBytes(m.host))
		m.dirty = false
	}
	return nil
}

// Buffer returns the device buffer, nil before the first Update.
func (m *ManagedBuffer[T]) Buffer() *wgpu.Buffer {
	return m.buffer
}

// Binding returns a bind group entry for the whole buffer.
//
// Parameters:
//   - binding: the binding slot
//
// Returns:
//   - wgpu.BindGroupEntry: entry referencing the device buffer
func (m *ManagedBuffer[T]) Binding(binding uint32) wgpu.BindGroupEntry {
	return wgpu.BindGroupEntry{
		Binding: binding,
		Buffer:  m.buffer,
		Size:    m.ByteSize(),
	}
}

// Release frees the device buffer. The mirror survives, so a later Update
// restores the GPU state.
func (m *ManagedBuffer[T]) Release() {
	if m.buffer != nil {
		m.buffer.Release()
		m.buffer = nil
		m.bufferCap = 0
		m.bindingsInvalid = true
		m.dirty = true
	}
}
