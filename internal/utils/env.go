package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

func QT_VERSION() string {
	if version := os.Getenv("QT_VERSION"); version != "" {
		return version
	}
	return "5.8.0"
}

// QT_VERSION_MAJOR is the leading "major.minor" of QT_VERSION.
func QT_VERSION_MAJOR() string {
	parts := strings.Split(QT_VERSION(), ".")
	if len(parts) < 2 {
		return parts[0]
	}
	return strings.Join(parts[:2], ".")
}

func QT_DIR() string {
	if dir := os.Getenv("QT_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	if runtime.GOOS == "windows" {
		return "C:\\Qt\\Qt" + QT_VERSION()
	}
	return filepath.Join(os.Getenv("HOME"), "Qt"+QT_VERSION())
}

// QT_STUB generates wrappers that return zero values without calling Qt,
// for building on machines without a Qt installation.
func QT_STUB() bool {
	return isTrue("QT_STUB")
}

func QT_DEBUG() bool {
	return isTrue("QT_DEBUG")
}

func IsCI() bool {
	return isTrue("CI")
}

func isTrue(name string) bool {
	return strings.ToLower(os.Getenv(name)) == "true"
}
