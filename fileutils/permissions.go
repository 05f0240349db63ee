package fileutils

import (
	"errors"
	"fmt"
	"os"
)

// VerifyWritable returns nil if dirPath is a directory and is writable.
func VerifyWritable(dirPath string) error {
	fil, err := os.CreateTemp(dirPath, "")
	if err != nil {
		return err
	}
	return errors.Join(fil.Close(), os.Remove(fil.Name()))
}

// EnsureWritableDir creates dirPath when missing and checks it can be written.
func EnsureWritableDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dirPath, err)
	}
	if err := VerifyWritable(dirPath); err != nil {
		return fmt.Errorf("directory %s must be writable: %w", dirPath, err)
	}
	return nil
}
