package utils

import "sort"

// CloneMap returns a shallow copy of the map, nil for a nil map.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	cloneM := make(map[K]V, len(m))
	for k, v := range m {
		cloneM[k] = v
	}
	return cloneM
}

// SortedKeys returns the keys of the map in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UniqueSlice removes the duplicates of the slice in place, keeping the
// first occurrences in order.
func UniqueSlice[K comparable](a []K) []K {
	m := make(map[K]bool)
	for i := 0; i < len(a); {
		v := a[i]
		if !m[v] {
			m[v] = true
			i++
			continue
		}
		a = append(a[:i], a[i+1:]...)
	}
	return a
}
