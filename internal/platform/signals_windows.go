//go:build windows

package platform

import "os"

// Console apps on Windows only get Ctrl+C reliably.
var shutdownSignals = []os.Signal{os.Interrupt}
