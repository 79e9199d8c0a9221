package util

import "log"

// Debug is the highest DPrintf level that is printed. 0 silences tracing.
var Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	}
	return m
}

// SumOverflows reports whether a+b wraps around 2^64.
func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}
