package watcher

import (
	"io"
	"os"
	"time"
)

// IsFullyWritten polls the size of path every interval until two consecutive
// reads agree and the file can be read end to end, or until waitTime elapses
func IsFullyWritten(path string, waitTime, interval time.Duration) bool {
	deadline := time.Now().Add(waitTime)
	lastSize := int64(-1)

	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil {
			if info.Size() == lastSize && readable(path) {
				return true
			}
			lastSize = info.Size()
		}
		time.Sleep(interval)
	}
	return false
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, err = io.Copy(io.Discard, f)
	return err == nil
}
