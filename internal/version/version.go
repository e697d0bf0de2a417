package version

import (
	"fmt"
	"os"

	"github.com/alvarorichard/anidl/internal/storage"
)

const (
	Version = "0.3"
)

func HasVersionArg() bool {
	if len(os.Args) > 1 {
		arg := os.Args[1]
		return arg == "--version" || arg == "-version" || arg == "-v" || arg == "--v"
	}
	return false
}

// String describes the build
func String() string {
	s := fmt.Sprintf("anidl v%s", Version)
	if storage.IsCgoEnabled {
		return s + " (with SQLite pattern store)"
	}
	return s + " (without SQLite, patterns are kept in memory)"
}

func ShowVersion() {
	fmt.Println(String())
}
