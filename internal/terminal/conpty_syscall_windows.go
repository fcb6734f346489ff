//go:build windows

package terminal

import (
	"fmt"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

var kernel32 = windows.NewLazySystemDLL("kernel32.dll")

var (
	procCreatePseudoConsole          = kernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole          = kernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole           = kernel32.NewProc("ClosePseudoConsole")
	procInitializeProcThreadAttrList = kernel32.NewProc("InitializeProcThreadAttributeList")
	procDeleteProcThreadAttrList     = kernel32.NewProc("DeleteProcThreadAttributeList")
	procUpdateProcThreadAttribute    = kernel32.NewProc("UpdateProcThreadAttribute")
)

const (
	winOK                       = 0
	procThreadAttrPseudoConsole = 0x20016
)

// consoleSize is the Windows COORD structure, packed the way
// CreatePseudoConsole/ResizePseudoConsole expect it on the stack: X in the
// low 16 bits, Y in the high 16 bits of a single uintptr.
type consoleSize struct {
	X int16
	Y int16
}

func (c *consoleSize) pack() uintptr {
	return uintptr((int32(c.Y) << 16) | int32(c.X))
}

// pseudoConsole is an HPCON handle returned by CreatePseudoConsole.
type pseudoConsole windows.Handle

func isConPtyAvailable() bool {
	return procCreatePseudoConsole.Find() == nil
}

func createPseudoConsole(size *consoleSize, hInput, hOutput windows.Handle) (pseudoConsole, error) {
	var hpCon pseudoConsole
	ret, _, lastErr := procCreatePseudoConsole.Call(
		size.pack(),
		uintptr(hInput),
		uintptr(hOutput),
		0,
		uintptr(unsafe.Pointer(&hpCon)),
	)
	if ret != winOK {
		return 0, fmt.Errorf("CreatePseudoConsole failed with code: 0x%x, lastError: %v", ret, lastErr)
	}
	return hpCon, nil
}

func resizePseudoConsole(hpCon pseudoConsole, size *consoleSize) error {
	ret, _, lastErr := procResizePseudoConsole.Call(uintptr(hpCon), size.pack())
	if ret != winOK {
		return fmt.Errorf("ResizePseudoConsole failed with code: 0x%x, lastError: %v", ret, lastErr)
	}
	return nil
}

func closePseudoConsole(hpCon pseudoConsole) {
	procClosePseudoConsole.Call(uintptr(hpCon))
}

// initializeProcThreadAttrList allocates and initializes the attribute
// list CreateProcess needs to carry the pseudo console handle. The API
// requires a two-call dance: the first call (with a nil buffer) reports
// the required size, then a second call fills the allocated buffer.
func initializeProcThreadAttrList() ([]byte, error) {
	var size uintptr
	_, _, firstErr := procInitializeProcThreadAttrList.Call(0, 1, 0, uintptr(unsafe.Pointer(&size)))
	if size == 0 {
		return nil, fmt.Errorf("failed to get attribute list size, lastError: %v", firstErr)
	}

	attrList := make([]byte, size)
	ret, _, lastErr := procInitializeProcThreadAttrList.Call(
		uintptr(unsafe.Pointer(&attrList[0])),
		1, 0,
		uintptr(unsafe.Pointer(&size)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("InitializeProcThreadAttributeList failed, lastError: %v", lastErr)
	}
	return attrList, nil
}

func updateProcThreadAttrWithPseudoConsole(attrList []byte, hpCon pseudoConsole) error {
	ret, _, lastErr := procUpdateProcThreadAttribute.Call(
		uintptr(unsafe.Pointer(&attrList[0])),
		0,
		procThreadAttrPseudoConsole,
		uintptr(hpCon),
		unsafe.Sizeof(hpCon),
		0, 0,
	)
	if ret == 0 {
		return fmt.Errorf("UpdateProcThreadAttribute failed, lastError: %v", lastErr)
	}
	return nil
}

func deleteProcThreadAttrList(attrList []byte) {
	if len(attrList) > 0 {
		procDeleteProcThreadAttrList.Call(uintptr(unsafe.Pointer(&attrList[0])))
	}
}

// createEnvBlock builds the double-null-terminated UTF-16 environment
// block CreateProcess expects. Entries that are empty strings are
// dropped so they can't be mistaken for the terminating null.
func createEnvBlock(env []string) *uint16 {
	if len(env) == 0 {
		return nil
	}
	var block []uint16
	for _, e := range env {
		if e == "" {
			continue
		}
		block = append(block, utf16.Encode([]rune(e))...)
		block = append(block, 0)
	}
	if len(block) == 0 {
		return nil
	}
	block = append(block, 0)
	return &block[0]
}
