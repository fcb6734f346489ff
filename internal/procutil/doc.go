// Package procutil provides cross-platform process utilities.
// Exposes HideWindow, which prevents console window flash on Windows when
// launching child processes via exec.Command, and Detach, which configures
// a child so it survives the spawning process's exit (used by the Client
// Library to launch the daemon on demand).
package procutil
