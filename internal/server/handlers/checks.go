package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BoardLister lists the boards of the project configuration.
type BoardLister interface {
	Boards() ([]string, error)
}

// ProjectChecker fails when the project configuration has no usable board.
func ProjectChecker(boards BoardLister) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		ids, err := boards.Boards()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("project defines no boards")
		}
		return nil
	})
}

// DirWritableChecker fails when a file cannot be created in dir.
func DirWritableChecker(dir string) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(filepath.Clean(name))
	})
}
