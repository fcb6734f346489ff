//go:build windows

package sessionstore

import "golang.org/x/sys/windows"

// processAlive opens the process with the minimal query right and checks
// its exit code; there is no signal-0 equivalent on Windows.
func processAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windows.STILL_ACTIVE
}
