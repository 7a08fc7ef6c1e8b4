//go:build windows

package lifecycle

import "os"

func signalSet() []os.Signal {
	return []os.Signal{os.Interrupt}
}
