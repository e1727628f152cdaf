package core

import "unsafe"

const (
	// CacheLineSize is the alignment of the arena's backing buffer.
	CacheLineSize = 64

	// ArenaAlignment is the byte alignment of every tensor slot planned
	// inside an arena. Word alignment keeps 32-bit loads legal on
	// microcontroller targets without wasting space on byte tensors.
	ArenaAlignment = 4
)

// IsAligned checks if a pointer (represented as a uintptr) is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignSize rounds size up to the specified power-of-two alignment.
func AlignSize(size, align int) int {
	if align <= 1 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// AlignedBytes allocates a byte slice with its underlying array aligned to CacheLineSize.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	// Allocate extra space to allow for alignment.
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}
