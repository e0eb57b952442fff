package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindEnvFile resolves an environment file. An absolute path is used as is;
// a relative name is looked up in the working directory and then in each
// parent, so tests running inside a package directory find the repository's
// .env. An empty name means ".env".
func FindEnvFile(name string) (string, error) {
	if name == "" {
		name = ".env"
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findUpwards(wd, name)
}

func findUpwards(dir, name string) (string, error) {
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s: %w", name, os.ErrNotExist)
		}
		dir = parent
	}
}
