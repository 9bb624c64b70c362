package domain

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const taskIDWidth = 13 // base36 digits of math.MaxInt64

var lastTimestamp int64

func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// NewTaskID returns a unique identifier whose lexicographic order follows
// creation order within the process.
func NewTaskID() string {
	id := strconv.FormatInt(nextTimestamp(), 36)
	if len(id) < taskIDWidth {
		id = strings.Repeat("0", taskIDWidth-len(id)) + id
	}
	return id
}
