//go:build windows

package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ErrConPtyUnsupported is returned by startConPty when the running
// Windows version predates CreatePseudoConsole (pre-1809).
var ErrConPtyUnsupported = errors.New("terminal: ConPTY unsupported on this Windows version")

var (
	waitForSingleObjectFn = windows.WaitForSingleObject
	terminateProcessFn    = windows.TerminateProcess
)

const (
	defaultConPtyWidth  = 80
	defaultConPtyHeight = 40
	maxConPtyDimension  = 32767

	// gracePeriodMS is how long Close waits for the child to exit on its
	// own after the pseudo console closes before force-terminating it.
	gracePeriodMS = 500
	// terminateWaitMS is a short follow-up wait after TerminateProcess to
	// observe the resulting exit state for logging.
	terminateWaitMS       = 100
	waitTimeoutResultCode = uint32(windows.WAIT_TIMEOUT)
)

// pipeHandle wraps a raw Windows handle used for ConPTY I/O. Every method
// snapshots the handle under mu, then performs the blocking syscall
// without holding the lock, so Close can invalidate the handle without
// deadlocking a reader or writer blocked in the kernel.
type pipeHandle struct {
	mu     sync.Mutex
	handle windows.Handle
}

func (h *pipeHandle) snapshot() windows.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handle
}

func (h *pipeHandle) Read(p []byte) (int, error) {
	handle := h.snapshot()
	if handle == 0 || handle == windows.InvalidHandle {
		return 0, io.EOF
	}
	var n uint32
	err := windows.ReadFile(handle, p, &n, nil)
	return int(n), asReadEOF(err)
}

func (h *pipeHandle) Write(p []byte) (int, error) {
	handle := h.snapshot()
	if handle == 0 || handle == windows.InvalidHandle {
		return 0, io.ErrClosedPipe
	}
	var n uint32
	err := windows.WriteFile(handle, p, &n, nil)
	return int(n), asClosedPipe(err)
}

func (h *pipeHandle) Close() error {
	h.mu.Lock()
	handle := h.handle
	if handle == 0 || handle == windows.InvalidHandle {
		h.mu.Unlock()
		return nil
	}
	h.handle = windows.InvalidHandle
	h.mu.Unlock()

	if err := windows.CloseHandle(handle); err != nil {
		slog.Debug("[terminal] conpty handle close failed", "error", err)
		return err
	}
	return nil
}

// ConPty is a running Windows pseudo console attached to one child
// process. It satisfies the terminal package's backend interface.
type ConPty struct {
	stateMu sync.RWMutex
	hpCon   pseudoConsole
	pi      *windows.ProcessInformation
	in      *pipeHandle
	out     *pipeHandle

	closeOnce sync.Once
	closeErr  error
}

// IsConPtyAvailable reports whether CreatePseudoConsole exists on this
// system.
func IsConPtyAvailable() bool {
	return isConPtyAvailable()
}

type conPtyArgs struct {
	size    consoleSize
	sized   bool
	width   int
	height  int
	workDir string
	env     []string
}

// ConPtyOption configures startConPty.
type ConPtyOption func(*conPtyArgs)

// ConPtyDimensions sets the initial console size.
func ConPtyDimensions(width, height int) ConPtyOption {
	return func(a *conPtyArgs) {
		a.sized = true
		a.width = width
		a.height = height
	}
}

// ConPtyWorkDir sets the child process's working directory.
func ConPtyWorkDir(dir string) ConPtyOption {
	return func(a *conPtyArgs) { a.workDir = dir }
}

// ConPtyEnv sets the child process's environment block.
func ConPtyEnv(env []string) ConPtyOption {
	return func(a *conPtyArgs) { a.env = env }
}

func startConPty(commandLine string, options ...ConPtyOption) (*ConPty, error) {
	if !IsConPtyAvailable() {
		return nil, ErrConPtyUnsupported
	}

	args := &conPtyArgs{size: consoleSize{X: defaultConPtyWidth, Y: defaultConPtyHeight}}
	for _, opt := range options {
		opt(args)
	}
	width, height := int(args.size.X), int(args.size.Y)
	if args.sized {
		width, height = args.width, args.height
	}
	if err := validateConPtyDimensions(width, height); err != nil {
		return nil, err
	}
	args.size = consoleSize{X: int16(width), Y: int16(height)}

	ptyIn, cmdIn, cmdOut, ptyOut, err := makePipePair()
	if err != nil {
		return nil, err
	}

	hpCon, err := createPseudoConsole(&args.size, ptyIn, ptyOut)
	if err != nil {
		closeHandles(ptyIn, ptyOut, cmdIn, cmdOut)
		return nil, err
	}
	// CreatePseudoConsole duplicates the handles it needs; the local copies
	// must close now so a broken pipe on the child side is detected promptly
	// instead of being kept alive by our own dangling duplicate.
	closeHandles(ptyIn, ptyOut)

	pi, err := createConPtyProcess(commandLine, args, hpCon)
	if err != nil {
		closePseudoConsole(hpCon)
		closeHandles(cmdIn, cmdOut)
		return nil, err
	}

	return &ConPty{
		hpCon: hpCon,
		pi:    pi,
		in:    &pipeHandle{handle: cmdIn},
		out:   &pipeHandle{handle: cmdOut},
	}, nil
}

// makePipePair creates the two anonymous pipes ConPTY needs: one the
// console reads as its input, one it writes its output to. ptyIn/ptyOut
// are handed to CreatePseudoConsole; cmdIn/cmdOut are this process's ends.
func makePipePair() (ptyIn, cmdIn, cmdOut, ptyOut windows.Handle, err error) {
	if err = windows.CreatePipe(&ptyIn, &cmdIn, nil, 0); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("create input pipe: %w", err)
	}
	if err = windows.CreatePipe(&cmdOut, &ptyOut, nil, 0); err != nil {
		closeHandles(ptyIn, cmdIn)
		return 0, 0, 0, 0, fmt.Errorf("create output pipe: %w", err)
	}
	return
}

func closeHandles(handles ...windows.Handle) {
	for _, h := range handles {
		if h == 0 || h == windows.InvalidHandle {
			continue
		}
		if err := windows.CloseHandle(h); err != nil {
			slog.Debug("[terminal] conpty handle close failed", "handle", h, "error", err)
		}
	}
}

type startupInfoEx struct {
	startupInfo   windows.StartupInfo
	attributeList []byte
}

func newStartupInfoEx(hpCon pseudoConsole) (*startupInfoEx, error) {
	si := &startupInfoEx{}
	// STARTUPINFOEXW = STARTUPINFOW + a trailing attribute-list pointer:
	// 112 bytes on amd64, 72 on 386.
	si.startupInfo.Cb = uint32(unsafe.Sizeof(windows.StartupInfo{}) + unsafe.Sizeof(uintptr(0)))
	si.startupInfo.Flags |= windows.STARTF_USESTDHANDLES

	attrList, err := initializeProcThreadAttrList()
	if err != nil {
		return nil, err
	}
	si.attributeList = attrList

	if err := updateProcThreadAttrWithPseudoConsole(si.attributeList, hpCon); err != nil {
		deleteProcThreadAttrList(si.attributeList)
		return nil, err
	}
	return si, nil
}

func createConPtyProcess(commandLine string, args *conPtyArgs, hpCon pseudoConsole) (*windows.ProcessInformation, error) {
	cmdLinePtr, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return nil, err
	}

	var workDirPtr *uint16
	if args.workDir != "" {
		workDirPtr, err = windows.UTF16PtrFromString(args.workDir)
		if err != nil {
			return nil, err
		}
	}

	si, err := newStartupInfoEx(hpCon)
	if err != nil {
		return nil, fmt.Errorf("build ConPTY startup info: %w", err)
	}
	defer deleteProcThreadAttrList(si.attributeList)

	envBlock := createEnvBlock(args.env)
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT)
	if envBlock != nil {
		flags |= windows.CREATE_UNICODE_ENVIRONMENT
	}

	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		nil,
		cmdLinePtr,
		nil,
		nil,
		false,
		flags,
		envBlock,
		workDirPtr,
		&si.startupInfo,
		&pi,
	)
	// envBlock must stay alive through the call above: Windows may still be
	// reading it, and there is no Go reference keeping it live otherwise.
	runtime.KeepAlive(envBlock)
	if err != nil {
		return nil, fmt.Errorf("CreateProcess: %w", err)
	}
	return &pi, nil
}

// Read reads pseudo console output. A Close racing in between the handle
// snapshot and the syscall surfaces as ERROR_INVALID_HANDLE/BROKEN_PIPE,
// which asReadEOF turns into a plain io.EOF.
func (c *ConPty) Read(p []byte) (int, error) {
	c.stateMu.RLock()
	out := c.out
	c.stateMu.RUnlock()
	if out == nil {
		return 0, errors.New("terminal: read on closed ConPTY")
	}
	return out.Read(p)
}

// Write sends input to the pseudo console. Subject to the same Close race
// as Read; asClosedPipe normalizes the resulting errors.
func (c *ConPty) Write(p []byte) (int, error) {
	c.stateMu.RLock()
	in := c.in
	c.stateMu.RUnlock()
	if in == nil {
		return 0, errors.New("terminal: write on closed ConPTY")
	}
	return in.Write(p)
}

// Resize changes the pseudo console's dimensions. Non-blocking, so holding
// the read lock across the syscall is safe and avoids racing Close.
func (c *ConPty) Resize(width, height int) error {
	if err := validateConPtyDimensions(width, height); err != nil {
		return err
	}
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.hpCon == 0 {
		return errors.New("terminal: resize on closed ConPTY")
	}
	size := &consoleSize{X: int16(width), Y: int16(height)}
	return resizePseudoConsole(c.hpCon, size)
}

// Close releases the pseudo console and its process. Safe to call more
// than once; only the first call performs cleanup.
func (c *ConPty) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.teardown()
	})
	return c.closeErr
}

// teardown closes the pseudo console first, waits briefly for the child
// to exit on its own, force-terminates it if it doesn't, then releases
// the process and pipe handles.
func (c *ConPty) teardown() error {
	c.stateMu.Lock()
	hpCon, pi, in, out := c.hpCon, c.pi, c.in, c.out
	c.hpCon, c.pi, c.in, c.out = 0, nil, nil, nil
	c.stateMu.Unlock()

	if hpCon != 0 {
		closePseudoConsole(hpCon)
	}

	var firstErr error
	if pi != nil {
		firstErr = waitOrKill(pi)
		closeHandles(pi.Process, pi.Thread)
	}
	for _, h := range []*pipeHandle{in, out} {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// waitOrKill waits up to gracePeriodMS for pi's process to exit, and
// force-terminates it if the wait times out or fails — either outcome
// means we can't trust the child to have exited, so leaving it running
// would leak a zombie process. Every failure along the way is logged;
// only the earliest one is returned.
func waitOrKill(pi *windows.ProcessInformation) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ret, waitErr := waitForSingleObjectFn(pi.Process, gracePeriodMS)
	if waitErr != nil {
		slog.Warn("[terminal] conpty WaitForSingleObject failed",
			"pid", pi.ProcessId, "result", formatWaitResult(ret), "error", waitErr)
		keep(fmt.Errorf("WaitForSingleObject failed during close: %w", waitErr))
	}
	if ret == windows.WAIT_OBJECT_0 {
		return firstErr
	}

	if err := terminateProcessFn(pi.Process, 0); err != nil {
		slog.Warn("[terminal] conpty TerminateProcess failed (zombie process risk)",
			"pid", pi.ProcessId, "result", formatWaitResult(ret), "error", err)
		keep(fmt.Errorf("terminate pseudo console process: %w", err))
		return firstErr
	}

	postRet, postErr := waitForSingleObjectFn(pi.Process, terminateWaitMS)
	if postErr != nil {
		slog.Warn("[terminal] conpty post-terminate wait failed",
			"pid", pi.ProcessId, "result", formatWaitResult(postRet), "error", postErr)
		keep(fmt.Errorf("wait after TerminateProcess during close: %w", postErr))
	} else if postRet != windows.WAIT_OBJECT_0 {
		slog.Warn("[terminal] conpty process did not report exited after TerminateProcess",
			"pid", pi.ProcessId, "result", formatWaitResult(postRet))
	}
	return firstErr
}

func formatWaitResult(ret uint32) string {
	switch ret {
	case windows.WAIT_OBJECT_0:
		return "WAIT_OBJECT_0(0x0)"
	case windows.WAIT_ABANDONED:
		return "WAIT_ABANDONED(0x80)"
	case waitTimeoutResultCode:
		return "WAIT_TIMEOUT(0x102)"
	case windows.WAIT_FAILED:
		return "WAIT_FAILED(0xFFFFFFFF)"
	default:
		return fmt.Sprintf("0x%X", ret)
	}
}

func validateConPtyDimensions(width, height int) error {
	if width <= 0 || width > maxConPtyDimension || height <= 0 || height > maxConPtyDimension {
		return fmt.Errorf("terminal: ConPTY dimensions must be between 1 and %d: got %dx%d", maxConPtyDimension, width, height)
	}
	return nil
}

func asReadEOF(err error) error {
	if isClosedPipeErr(err) {
		return io.EOF
	}
	return err
}

func asClosedPipe(err error) error {
	if isClosedPipeErr(err) {
		return io.ErrClosedPipe
	}
	return err
}

func isClosedPipeErr(err error) bool {
	return err != nil && (errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_HANDLE_EOF) ||
		errors.Is(err, windows.ERROR_INVALID_HANDLE) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, io.ErrClosedPipe))
}

// Pid returns the child process's id.
func (c *ConPty) Pid() int {
	c.stateMu.RLock()
	pi := c.pi
	c.stateMu.RUnlock()
	if pi == nil {
		return 0
	}
	return int(pi.ProcessId)
}

// Wait blocks until the child exits and returns its exit code. If Close
// races ahead and tears down the process handle first, GetExitCodeProcess
// fails and that failure is returned rather than a fabricated code.
func (c *ConPty) Wait() (int, error) {
	c.stateMu.RLock()
	pi := c.pi
	c.stateMu.RUnlock()
	if pi == nil {
		return 0, errors.New("terminal: wait on closed ConPTY")
	}

	if _, err := waitForSingleObjectFn(pi.Process, windows.INFINITE); err != nil {
		return 0, fmt.Errorf("WaitForSingleObject: %w", err)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(pi.Process, &code); err != nil {
		return 0, fmt.Errorf("GetExitCodeProcess: %w", err)
	}
	return int(code), nil
}
