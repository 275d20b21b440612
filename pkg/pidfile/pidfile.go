package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
)

const runDir = "/var/run"

// FilePath returns the conventional pid file location for the program,
// falling back to the working directory when /var/run is not writable.
func FilePath(name string) string {
	path := filepath.Join(runDir, fmt.Sprintf("%s.pid", name))
	if file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644); err == nil {
		_ = file.Close()
		return path
	}
	return fmt.Sprintf("%s.pid", name)
}

func WritePID(path string) (string, error) {
	err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to write pid file %s: %w", path, err)
	}
	return path, nil
}

func Remove(path string) {
	_ = os.Remove(path)
}
