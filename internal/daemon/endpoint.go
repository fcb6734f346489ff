package daemon

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"

	"paned/internal/userutil"
)

// defaultSocketName is the bare transport name; platform-specific Listen
// implementations turn it into a full Unix socket path or Windows named
// pipe name.
const defaultSocketName = "paned"

var validSocketSuffixPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// DefaultRuntimeDir resolves the per-user runtime directory the daemon and
// Client Library both use for the endpoint, the PID file, and the optional
// session snapshot: PANED_RUNTIME_DIR if set, else a "paned/run" directory
// under the user cache dir, else a temp-dir fallback.
func DefaultRuntimeDir() string {
	if v := strings.TrimSpace(os.Getenv("PANED_RUNTIME_DIR")); v != "" {
		return v
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "paned", "run")
	}
	return filepath.Join(os.TempDir(), "paned")
}

// DefaultEndpointPath resolves the transport address to bind: the value of
// PANED_SOCKET if it passes validation, otherwise a per-user default under
// the runtime directory. The same value is reused for both the Unix domain
// socket path and the Windows named pipe name — the platform Listen
// implementation decides how to interpret it.
func DefaultEndpointPath(runtimeDir string) string {
	if v := strings.TrimSpace(os.Getenv("PANED_SOCKET")); v != "" && validSocketSuffixPattern.MatchString(v) {
		return v
	}
	return filepath.Join(runtimeDir, defaultSocketName+"."+currentUsername()+".sock")
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return userutil.SanitizeUsername(u.Username)
	}
	return "default"
}
