package core

import "unsafe"

const (
	// CacheLineSize is the alignment of every tensor allocation.
	CacheLineSize = 64
)

// IsAligned checks if addr sits on a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignedSize rounds size up to the nearest cache line multiple.
func AlignedSize(size uintptr) uintptr {
	return (size + uintptr(CacheLineSize-1)) & ^uintptr(CacheLineSize-1)
}

// AlignSize rounds size up to the given power-of-two alignment.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignedBytes allocates a byte slice whose backing array starts on a cache
// line boundary, so float32 and float16 views over it are always aligned.
func AlignedBytes(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}
	return buf[offset : offset+uintptr(size)]
}

// PadToAlignment returns data padded with zero bytes up to align.
func PadToAlignment(data []byte, align int) []byte {
	alignedLen := AlignSize(len(data), align)
	if alignedLen == len(data) {
		return data
	}
	padded := make([]byte, alignedLen)
	copy(padded, data)
	return padded
}
