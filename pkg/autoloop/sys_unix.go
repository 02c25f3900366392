//go:build unix

package autoloop

import "syscall"

// detached puts the child in its own session so it outlives the parent's
// terminal and signals.
func detached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
