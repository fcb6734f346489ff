//go:build !windows

package sessionstore

import "syscall"

// processAlive performs the standard Unix signal-0 liveness probe: sending
// signal 0 does not actually signal the process, only validates that it
// exists and is visible to this user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil
}
