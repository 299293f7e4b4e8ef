package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaultDatabasePath returns the default path for the palette snapshot database
func GetDefaultDatabasePath() string {
	// Get the executable path
	exePath, err := os.Executable()
	if err != nil {
		// Fallback to current directory if executable path can't be determined
		return "inspectwatch.db"
	}

	// Get the directory containing the executable
	exeDir := filepath.Dir(exePath)

	// Return the default database path in the same directory
	return filepath.Join(exeDir, "inspectwatch.db")
}

// GetDefaultConfigPath returns the configuration file looked up when --config is not given
func GetDefaultConfigPath() string {
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return "config.json"
}

// DefaultWorkerScript is the model worker shipped with the binary
const DefaultWorkerScript = "scripts/worker.py"

// GetDefaultWorkerScript locates the model worker in the working directory or next to the executable
func GetDefaultWorkerScript() string {
	if _, err := os.Stat(DefaultWorkerScript); err == nil {
		return DefaultWorkerScript
	}
	if exePath, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exePath), DefaultWorkerScript)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return DefaultWorkerScript
}

// ValidateThreshold checks that a confidence or IoU threshold lies in [0, 1]
func ValidateThreshold(value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("threshold %v outside [0, 1]", value)
	}
	return nil
}
