package marketengine

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID parses the running goroutine's id out of a runtime.Stack
// header. It is a diagnostic hook only, used to make the "fatal on wrong
// thread" assertion concrete in a language without first-class thread
// affinity, the way the source's bindToCurrentThread() captures an OS
// thread id. Returns 0 if the stack header cannot be parsed.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(buf[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
