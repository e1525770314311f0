// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FindBinary resolves an executable.
//
// If name contains a path separator it is treated as an explicit path and
// only that path is checked. Otherwise the search order is:
//  1. the environment variable envVar, if non-empty and set
//  2. ./name
//  3. name on PATH
func FindBinary(name string, envVar string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("binary name is empty")
	}

	if strings.ContainsRune(name, filepath.Separator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("binary %s not found or not executable", name)
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
