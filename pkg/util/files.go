package util

import (
	"fmt"
	"os"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ResetDir removes path and everything under it, then recreates it empty
func ResetDir(path string) error {
	if path == "" || path == "/" {
		return fmt.Errorf("refusing to reset %q", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return EnsureDir(path)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
