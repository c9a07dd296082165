//go:build windows

package agent

import (
	"errors"
	"syscall"
)

// wsaeconnrefused is WSAECONNREFUSED.
const wsaeconnrefused syscall.Errno = 10061

func isConnRefused(err error) bool {
	return errors.Is(err, wsaeconnrefused) || errors.Is(err, syscall.ECONNREFUSED)
}
