package kernels

// unrollFactor is the manual unroll width of the inner loops.
const unrollFactor = 4

// dotQ7 returns the int64 dot product of a and b[:len(a)].
func dotQ7(a, b []int8) int64 {
	b = b[:len(a)]
	var s0, s1, s2, s3 int64
	i := 0
	for ; i <= len(a)-unrollFactor; i += unrollFactor {
		s0 += int64(a[i]) * int64(b[i])
		s1 += int64(a[i+1]) * int64(b[i+1])
		s2 += int64(a[i+2]) * int64(b[i+2])
		s3 += int64(a[i+3]) * int64(b[i+3])
	}
	for ; i < len(a); i++ {
		s0 += int64(a[i]) * int64(b[i])
	}
	return s0 + s1 + s2 + s3
}
