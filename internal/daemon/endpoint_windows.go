//go:build windows

package daemon

import (
	"errors"
	"fmt"
	"net"
	"os/user"
	"regexp"
	"strings"

	"github.com/Microsoft/go-winio"
)

const pipeInputBufferSize = 64 * 1024
const pipeOutputBufferSize = 64 * 1024

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

// Listen binds a Windows named pipe at path (as produced by
// DefaultEndpointPath, reinterpreted here as a pipe name), restricted by
// DACL to SYSTEM and the current user, matching the teacher's
// listenPipeWithCurrentUserDACL.
func Listen(path string) (net.Listener, error) {
	pipeName := toPipeName(path)
	sd, err := pipeSecurityDescriptor()
	if err != nil {
		return nil, fmt.Errorf("daemon: pipe security descriptor: %w", err)
	}
	ln, err := winio.ListenPipe(pipeName, &winio.PipeConfig{
		SecurityDescriptor: sd,
		MessageMode:        false,
		InputBufferSize:    pipeInputBufferSize,
		OutputBufferSize:   pipeOutputBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: listen %s: %w", pipeName, err)
	}
	return ln, nil
}

func toPipeName(path string) string {
	if strings.HasPrefix(path, `\\.\pipe\`) {
		return path
	}
	base := strings.ReplaceAll(path, `\`, "-")
	base = strings.ReplaceAll(base, "/", "-")
	return `\\.\pipe\` + base
}

func pipeSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if sid == "" {
		return "", errors.New("current user SID is unavailable")
	}
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %s", sid)
	}
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}
