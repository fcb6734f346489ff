//go:build !windows

package client

import (
	"context"
	"net"
)

// dial connects to the daemon's Unix domain socket at addr.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", addr)
}

// isConnRefused reports whether err indicates nothing is listening at the
// endpoint yet (as opposed to some other transport failure), mirroring the
// teacher's ipc.IsConnectionError classification.
func isConnRefused(err error) bool {
	return isDialOpError(err)
}
