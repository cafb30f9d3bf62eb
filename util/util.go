// Package util contains helper functions used across the kernel.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Divroundup divides v by b, rounding up.
func Divroundup[T Int](v, b T) T {
	return (v + b - 1) / b
}

// Readn reads an n-byte little-endian value from a starting at off.
// It panics if the requested region is out of bounds or the size is
// unsupported. The on-disk formats are little-endian by contract.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	var ret uint64
	switch n {
	case 8, 4, 2, 1:
		for i := n - 1; i >= 0; i-- {
			ret = ret<<8 | uint64(a[off+i])
		}
	default:
		panic("unsupported size")
	}
	return int(ret)
}

// Writen writes val as an sz-byte little-endian value into a at off.
// It panics if the destination is out of bounds or the size is unsupported.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	v := uint64(val)
	switch sz {
	case 8, 4, 2, 1:
		for i := 0; i < sz; i++ {
			a[off+i] = uint8(v)
			v >>= 8
		}
	default:
		panic("unsupported size")
	}
}
