// Package bitmap tests, sets and clears bits of a block-sized bitmap.
//
// Bit n lives in byte n/8, counted from the most-significant bit, so slot 0
// is 0x80 of byte 0. There is no bounds checking; callers keep n below the
// bitmap's capacity.
package bitmap

func mask(n uint64) byte {
	return 0x80 >> (n % 8)
}

func Test(b []byte, n uint64) bool {
	return b[n/8]&mask(n) != 0
}

func Set(b []byte, n uint64) {
	b[n/8] = b[n/8] | mask(n)
}

func Clear(b []byte, n uint64) {
	b[n/8] = b[n/8] & ^mask(n)
}
