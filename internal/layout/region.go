// Package layout provides bounds-checked, typed views over a byte region
// that may be shared between processes. Every shared structure in hoststream
// addresses its fields through a Region so that offsets are validated once
// and raw pointer arithmetic stays in this package.
package layout

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ErrLayout reports a region whose size, magic, or recorded offsets do not
// match what the reader expects.
var ErrLayout = errors.New("layout: region does not match expected layout")

// CacheLine is the alignment used between fields written by different
// processes.
const CacheLine = 64

// Align rounds n up to the next multiple of a. a must be a power of two.
func Align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Region is a view over a fixed byte range. The zero value is an empty
// region. Accessors panic on out-of-range or misaligned offsets: those are
// programming errors in a layout table, not runtime conditions.
type Region struct {
	mem []byte
}

// New wraps mem. The first byte of mem must be 8-byte aligned, which holds
// for mmap'd memory and for buffers returned by Heap.
func New(mem []byte) Region {
	if len(mem) > 0 && uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		panic("layout: region base is not 8-byte aligned")
	}
	return Region{mem: mem}
}

// Heap allocates an 8-byte aligned, zeroed region of at least size bytes in
// process memory. Shared structures built over a heap region behave exactly
// as they do over a mapping, which is how in-process channels and tests use
// them.
func Heap(size int) Region {
	words := make([]uint64, (size+7)/8)
	if len(words) == 0 {
		return Region{}
	}
	return Region{mem: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)}
}

// Len returns the size of the region in bytes.
func (r Region) Len() int { return len(r.mem) }

// Sub returns the n-byte sub-region starting at off.
func (r Region) Sub(off, n int) Region {
	r.check(off, n)
	return Region{mem: r.mem[off : off+n : off+n]}
}

// Fits reports whether [off, off+n) lies inside the region.
func (r Region) Fits(off, n int) bool {
	return off >= 0 && n >= 0 && off <= len(r.mem) && n <= len(r.mem)-off
}

// Bytes returns the n bytes at off. The slice aliases the region.
func (r Region) Bytes(off, n int) []byte {
	r.check(off, n)
	return r.mem[off : off+n : off+n]
}

// Zero clears the whole region.
func (r Region) Zero() {
	clear(r.mem)
}

// Word returns a pointer to the 32-bit word at off for use with sync/atomic
// or futex waits.
func (r Region) Word(off int) *uint32 {
	r.check(off, 4)
	if off%4 != 0 {
		panic(fmt.Sprintf("layout: 32-bit word at misaligned offset %d", off))
	}
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Word64 returns a pointer to the 64-bit word at off.
func (r Region) Word64(off int) *uint64 {
	r.check(off, 8)
	if off%8 != 0 {
		panic(fmt.Sprintf("layout: 64-bit word at misaligned offset %d", off))
	}
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r Region) Load32(off int) uint32     { return atomic.LoadUint32(r.Word(off)) }
func (r Region) Store32(off int, v uint32) { atomic.StoreUint32(r.Word(off), v) }
func (r Region) Add32(off int, d uint32) uint32 {
	return atomic.AddUint32(r.Word(off), d)
}
func (r Region) CAS32(off int, old, next uint32) bool {
	return atomic.CompareAndSwapUint32(r.Word(off), old, next)
}

func (r Region) Load64(off int) uint64     { return atomic.LoadUint64(r.Word64(off)) }
func (r Region) Store64(off int, v uint64) { atomic.StoreUint64(r.Word64(off), v) }

// LoadInt32 and StoreInt32 reinterpret the word at off as a signed value.
func (r Region) LoadInt32(off int) int32     { return int32(r.Load32(off)) }
func (r Region) StoreInt32(off int, v int32) { r.Store32(off, uint32(v)) }

func (r Region) check(off, n int) {
	if !r.Fits(off, n) {
		panic(fmt.Sprintf("layout: range [%d,%d) outside region of %d bytes", off, off+n, len(r.mem)))
	}
}
