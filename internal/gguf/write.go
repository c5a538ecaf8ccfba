package gguf

import (
	"encoding/binary"
	"io"
	"sort"
)

// WriteHeader writes a minimal GGUF v3 header with string and uint32
// metadata and no tensors. It is used to build fixtures.
func WriteHeader(w io.Writer, strs map[string]string, nums map[string]uint32) error {
	le := binary.LittleEndian
	put := func(v any) error { return binary.Write(w, le, v) }
	putString := func(s string) error {
		if err := put(uint64(len(s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	}
	for _, v := range []any{uint32(magic), uint32(3), uint64(0), uint64(len(strs) + len(nums))} {
		if err := put(v); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(strs) {
		if err := putString(k); err != nil {
			return err
		}
		if err := put(typeString); err != nil {
			return err
		}
		if err := putString(strs[k]); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(nums) {
		if err := putString(k); err != nil {
			return err
		}
		if err := put(typeUint32); err != nil {
			return err
		}
		if err := put(nums[k]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
