package abi

import (
	"bytes"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// copyIn writes data into the module's linear memory at a location
// obtained from the module's exported allocator, returning the pointer and
// length the kernel expects as call arguments.
func copyIn(mem *wasmer.Memory, alloc func(int32) (int32, error), data []byte) (int32, int32, error) {
	ptr, err := alloc(int32(len(data)))
	if err != nil {
		return 0, 0, err
	}
	buf := mem.Data()
	copy(buf[ptr:], data)
	return ptr, int32(len(data)), nil
}

// readCString reads a null-terminated byte string starting at ptr out of
// the module's linear memory. The kernel ABI transfers ownership of the
// returned cstring to the caller; the caller must free it via freeString.
func readCString(mem *wasmer.Memory, ptr int32) string {
	if ptr == 0 {
		return ""
	}
	data := mem.Data()
	end := bytes.IndexByte(data[ptr:], 0)
	if end < 0 {
		return ""
	}
	return string(data[ptr : int(ptr)+end])
}

// readBytes reads a fixed-length byte slice starting at ptr.
func readBytes(mem *wasmer.Memory, ptr, length int32) []byte {
	if ptr == 0 || length <= 0 {
		return nil
	}
	data := mem.Data()
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out
}
