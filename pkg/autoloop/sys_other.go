//go:build !unix

package autoloop

import "syscall"

func detached() *syscall.SysProcAttr {
	return nil
}
