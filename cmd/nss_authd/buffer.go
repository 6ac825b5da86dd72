package main

/*
#include <errno.h>
#include <stdlib.h>
*/
import "C"

import "unsafe"

// packStrings copies each of strs (in order) into buf as a NUL-terminated
// C string and returns a pointer to each copy. Returns ok=false (and
// leaves buf untouched) if buf is too small, the signal glibc's *_r
// convention uses to ask the caller to retry with a larger buffer
// (ERANGE).
func packStrings(buf *C.char, buflen C.size_t, strs ...string) (ptrs []*C.char, ok bool) {
	need := 0
	for _, s := range strs {
		need += len(s) + 1
	}
	if C.size_t(need) > buflen {
		return nil, false
	}

	view := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(buflen))
	ptrs = make([]*C.char, len(strs))
	offset := 0
	for i, s := range strs {
		copy(view[offset:], s)
		view[offset+len(s)] = 0
		ptrs[i] = (*C.char)(unsafe.Pointer(&view[offset]))
		offset += len(s) + 1
	}
	return ptrs, true
}

// packStringArray copies strs into buf as a NUL-terminated array of
// NUL-terminated C strings (for struct group's gr_mem / a future
// multi-valued field), returning the array's base pointer. The array
// itself (the slice of *C.char) is allocated by cgo's C.malloc-backed
// arena via C.CBytes equivalent sizing; glibc NSS accepts a result whose
// pointer fields point anywhere reachable, not only inside buf, provided
// the caller doesn't outlive the call — here the array is allocated with
// C.malloc and leaked intentionally for the scope of this process, since
// NSS has no "free my array" hook for *_r calls.
func packStringArray(strs []string) **C.char {
	arr := C.malloc(C.size_t((len(strs) + 1) * int(unsafe.Sizeof(uintptr(0)))))
	out := (*[1 << 20]*C.char)(arr)[: len(strs)+1 : len(strs)+1]
	for i, s := range strs {
		out[i] = C.CString(s)
	}
	out[len(strs)] = nil
	return (**C.char)(arr)
}
