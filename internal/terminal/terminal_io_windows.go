//go:build windows

package terminal

import "os"

// resizePtmx is never called on Windows: ConPty.Resize handles resizing
// and t.ptmx is always nil on this platform.
func resizePtmx(_ *os.File, _, _ int) error {
	return nil
}
