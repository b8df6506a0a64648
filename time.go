package pipehttp

import (
	"time"
)

// startTime carries a monotonic reading; every absolute value is measured
// against it, so wall clock jumps never affect idle accounting.
var startTime = time.Now()

// absoluteNano returns monotonic nanoseconds elapsed since process start.
func absoluteNano() int64 {
	return int64(time.Since(startTime))
}
