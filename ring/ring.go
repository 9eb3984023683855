// Package ring implements the cross-process, multi-producer/single-consumer
// shared-memory ring buffer of event records described by the tracing
// fabric's wire ABI. It is the only artifact shared between processes; its
// layout must stay byte-compatible between producer and consumer binaries.
package ring

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yanet-platform/tracering/event"
)

// DefaultName is the fixed shared-memory object name assumed when no
// override is configured, per the ABI's external interface.
const DefaultName = "/tracering_shm"

// DefaultK yields N = 4096 slots, the default fixed by the ABI.
const DefaultK = 12

// shmDir is where Linux exposes POSIX shared-memory objects created via
// shm_open; Go has no shm_open binding, so the ring opens the backing file
// directly under this path, exactly as shm_open(3) itself does on Linux.
const shmDir = "/dev/shm"

// header mirrors the layout of the first bytes of the mapped region:
// read_index followed by write_index. Two 4-byte fields already sum to an
// 8-byte, naturally aligned boundary, so no explicit padding is needed
// before the event array. This type is never instantiated; it exists to
// make the fixed offsets below self-documenting.
type header struct {
	readIndex  uint32
	writeIndex uint32
}

const headerSize = 8

// Ring is a handle to a memory-mapped shared region holding the read/write
// indices and the event array. The region itself is not owned by this
// process (it may be shared with others); Ring only owns the local mapping.
type Ring struct {
	name           string
	data           []byte // the full mmap'd region
	n              uint32 // number of slots, power of two
	mask           uint32
	allowOverwrite bool

	published uint64 // stats: successful Publish calls
	delivered uint64 // stats: events handed to Poll's callback
	dropped   uint64 // stats: Publish calls rejected under non-overwrite
}

// Stats reports monotonically increasing ring-level counters. It is
// metadata about delivery pressure, not part of the wire payload, and does
// not affect the non-goal of "no rich event payload".
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

func regionSize(n uint32) int64 {
	return int64(headerSize) + int64(n)*int64(event.Size)
}

// Create creates (or truncates) the backing shared-memory object, maps it
// read/write, and zeroes the indices. k selects N = 2^k slots. Create is
// the consumer-side operation: the consumer owns the object's lifecycle
// and is responsible for calling Unlink on shutdown.
func Create(name string, k uint, allowOverwrite bool) (*Ring, error) {
	if name == "" {
		name = DefaultName
	}
	n := uint32(1) << k

	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", name, err)
	}
	defer unix.Close(fd)

	size := regionSize(n)
	if err := unix.Ftruncate(fd, size); err != nil {
		return nil, fmt.Errorf("ring: truncate %s to %d bytes: %w", name, size, err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap %s: %w", name, err)
	}

	r := &Ring{name: name, data: data, n: n, mask: n - 1, allowOverwrite: allowOverwrite}
	atomic.StoreUint32(r.readIndexPtr(), 0)
	atomic.StoreUint32(r.writeIndexPtr(), 0)
	return r, nil
}

// Attach opens an existing shared-memory object created by Create and maps
// it read/write, without truncating it. Attach is the producer-side
// operation. If the mapping fails (the object does not exist yet, or is
// the wrong size), Attach returns an error; callers that need to tolerate
// the receiver not having started yet should retry with backoff (see
// package emitter).
func Attach(name string, k uint, allowOverwrite bool) (*Ring, error) {
	if name == "" {
		name = DefaultName
	}
	n := uint32(1) << k

	fd, err := unix.Open(shmPath(name), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", name, err)
	}
	defer unix.Close(fd)

	size := regionSize(n)
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("ring: stat %s: %w", name, err)
	}
	if st.Size != size {
		return nil, fmt.Errorf("ring: %s is %d bytes, expected %d for N=%d; producer and consumer disagree on ring size", name, st.Size, size, n)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap %s: %w", name, err)
	}

	return &Ring{name: name, data: data, n: n, mask: n - 1, allowOverwrite: allowOverwrite}, nil
}

func shmPath(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return shmDir + name
	}
	return shmDir + "/" + name
}

// Close unmaps the region. It does not unlink the backing object; see
// Unlink.
func (r *Ring) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Unlink removes the backing shared-memory object. Only the consumer
// (receiver) calls this, on shutdown.
func (r *Ring) Unlink() error {
	if err := os.Remove(shmPath(r.name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ring: unlink %s: %w", r.name, err)
	}
	return nil
}

func (r *Ring) readIndexPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[0]))
}

func (r *Ring) writeIndexPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[4]))
}

func (r *Ring) slot(idx uint32) *event.Event {
	off := headerSize + int(idx&r.mask)*event.Size
	return (*event.Event)(unsafe.Pointer(&r.data[off]))
}

// N returns the number of slots in the ring.
func (r *Ring) N() uint32 { return r.n }

// Publish reserves a slot via an atomic fetch-and-increment of the write
// index and writes e into it. Under the non-overwrite policy (the
// default), Publish first checks write-read >= N and returns false without
// publishing if the ring is full. Under the overwrite policy Publish
// always succeeds, and the consumer may observe a torn write if it reads a
// slot being concurrently overwritten: the spec's own recommendation (a
// per-publish sequence number) would be needed for strict safety and is
// not implemented here, since it is called out as a future recommendation,
// not a requirement.
func (r *Ring) Publish(e *event.Event) bool {
	if !r.allowOverwrite {
		write := atomic.LoadUint32(r.writeIndexPtr())
		read := atomic.LoadUint32(r.readIndexPtr())
		if write-read >= r.n {
			atomic.AddUint64(&r.dropped, 1)
			return false
		}
	}

	idx := atomic.AddUint32(r.writeIndexPtr(), 1) - 1
	*r.slot(idx) = *e
	atomic.AddUint64(&r.published, 1)
	return true
}

// Poll drains every event published since the last Poll and invokes fn for
// each, in ring order, advancing the read index after each callback. It
// reloads the write index after each callback so that events published
// during processing are observed without waiting for the next Poll call.
// Poll must only ever be called from a single goroutine at a time; the
// ring enforces no such exclusion itself.
func (r *Ring) Poll(fn func(*event.Event)) int {
	delivered := 0
	read := atomic.LoadUint32(r.readIndexPtr())
	write := atomic.LoadUint32(r.writeIndexPtr())

	for read != write {
		fn(r.slot(read))
		read++
		atomic.StoreUint32(r.readIndexPtr(), read)
		delivered++
		write = atomic.LoadUint32(r.writeIndexPtr())
	}

	atomic.AddUint64(&r.delivered, uint64(delivered))
	return delivered
}

// Stats returns a snapshot of the ring's delivery counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Published: atomic.LoadUint64(&r.published),
		Delivered: atomic.LoadUint64(&r.delivered),
		Dropped:   atomic.LoadUint64(&r.dropped),
	}
}
