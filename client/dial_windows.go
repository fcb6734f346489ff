//go:build windows

package client

import (
	"context"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
)

// dial connects to the daemon's named pipe at addr, the client-side half of
// the teacher's ipc.Send dial step.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, toPipeName(addr))
}

// toPipeName mirrors the daemon endpoint's own path-to-pipe-name mapping so
// the client dials the exact name the daemon listened on.
func toPipeName(path string) string {
	if strings.HasPrefix(path, `\\.\pipe\`) {
		return path
	}
	base := strings.ReplaceAll(path, `\`, "-")
	base = strings.ReplaceAll(base, "/", "-")
	return `\\.\pipe\` + base
}

// isConnRefused reports whether err indicates nothing is listening at the
// endpoint yet, mirroring the teacher's ipc.IsConnectionError.
func isConnRefused(err error) bool {
	return isDialOpError(err)
}
