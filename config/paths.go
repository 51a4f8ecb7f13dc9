package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "cypher"

// GetConfigDir returns $XDG_CONFIG_HOME/cypher, or ~/.config/cypher.
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); filepath.IsAbs(dir) {
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(GetHomeDir(), ".config", appDirName)
}

// GetDefaultDataDir returns $XDG_DATA_HOME/cypher, or ~/.local/share/cypher.
// On Windows it is %LOCALAPPDATA%\cypher.
func GetDefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dir) {
		return filepath.Join(dir, appDirName)
	}
	if dir, err := os.UserCacheDir(); err == nil && os.Getenv("LOCALAPPDATA") != "" {
		// UserCacheDir is %LocalAppData% on Windows.
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(GetHomeDir(), ".local", "share", appDirName)
}

func GetSettingsFilePath() string {
	return filepath.Join(GetConfigDir(), "settings.toml")
}

// GetHomeDir returns the user's home directory, or the filesystem root when
// none is known.
func GetHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return string(filepath.Separator)
}

// ExpandPath resolves a leading ~ and $VARS and cleans the result.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	switch {
	case path == "~":
		path = GetHomeDir()
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(GetHomeDir(), path[2:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// EnsureDir creates path with user-only access if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDataDirPermissions creates dataDir or tightens it to 0700. The data
// directory holds transcripts and the debug log.
func EnsureDataDirPermissions(dataDir string) error {
	info, err := os.Stat(dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return EnsureDir(dataDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "prepare", Path: dataDir, Err: errors.New("not a directory")}
	}
	if info.Mode().Perm() != 0700 {
		return os.Chmod(dataDir, 0700)
	}
	return nil
}
