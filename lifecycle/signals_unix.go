//go:build unix

package lifecycle

import (
	"os"
	"syscall"
)

func signalSet() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}
