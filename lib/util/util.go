// Package util contains helper functions used around the code.
package util

// In returns true if v is found in vs.
func In[T comparable](vs []T, v T) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}

	return false
}

// Filter returns the elements of vs that satisfy keep, in order. vs is not modified.
func Filter[T any](vs []T, keep func(T) bool) []T {
	out := make([]T, 0, len(vs))

	for _, v := range vs {
		if keep(v) {
			out = append(out, v)
		}
	}

	return out
}
