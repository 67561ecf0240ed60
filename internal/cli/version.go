package cli

import (
	"fmt"
	"runtime"
)

// Version is the current version of snare
const Version = "0.3.0"

// HandleVersion prints the current version of snare
func HandleVersion() {
	fmt.Printf("snare version %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
}
