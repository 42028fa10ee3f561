package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Environment is the hosting environment inferred from process signals.
type Environment string

const (
	// EnvCloud is a PaaS host (Render, Railway, or anything that sets PORT).
	// Data lives next to the binary.
	EnvCloud Environment = "cloud"
	// EnvDesktop is a workstation. Data lives in the user's OneDrive folder
	// so it syncs between machines.
	EnvDesktop Environment = "desktop"
)

const (
	dbFileName   = "material_rq.db"
	syncedFolder = "HPNT_Manager"
)

// cloudMarkers are environment variables set by the supported hosts.
var cloudMarkers = []string{"RENDER", "RAILWAY_ENVIRONMENT", "RAILWAY_PROJECT_ID"}

// DetectEnvironment decides where the process runs. lookup is usually
// os.LookupEnv.
func DetectEnvironment(lookup func(string) (string, bool)) Environment {
	return detectEnvironment(lookup, runtime.GOOS)
}

func detectEnvironment(lookup func(string) (string, bool), goos string) Environment {
	for _, key := range cloudMarkers {
		if v, ok := lookup(key); ok && v != "" {
			return EnvCloud
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" && goos != "windows" {
		return EnvCloud
	}
	return EnvDesktop
}

// Paths are the on-disk locations of the SQLite file and the image directory.
type Paths struct {
	Database string
	Images   string
}

// ResolvePaths maps an environment to data locations. appDir is the
// directory holding the executable; homeDir is the user's home directory.
func ResolvePaths(env Environment, appDir, homeDir string) Paths {
	if env == EnvCloud {
		base := filepath.Join(appDir, "db")
		return Paths{
			Database: filepath.Join(base, dbFileName),
			Images:   filepath.Join(base, "images"),
		}
	}
	base := filepath.Join(homeDir, "OneDrive", syncedFolder)
	return Paths{
		Database: filepath.Join(base, "db", dbFileName),
		Images:   filepath.Join(base, "images"),
	}
}

// ResolveDataPaths fills Database.Path and Images.Dir from the environment
// unless they were set explicitly, and returns the detected environment.
func (c *Config) ResolveDataPaths(lookup func(string) (string, bool)) (Environment, error) {
	env := DetectEnvironment(lookup)
	defer c.defaultBackupDir()
	if c.Database.Path != "" && c.Images.Dir != "" {
		return env, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return env, fmt.Errorf("config: locate executable: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil && env == EnvDesktop {
		return env, fmt.Errorf("config: locate home directory: %w", err)
	}

	p := ResolvePaths(env, filepath.Dir(exe), home)
	if c.Database.Path == "" {
		c.Database.Path = p.Database
	}
	if c.Images.Dir == "" {
		c.Images.Dir = p.Images
	}
	return env, nil
}

// defaultBackupDir places scheduled backups beside the image directory.
func (c *Config) defaultBackupDir() {
	if c.Backup.Dir == "" && c.Images.Dir != "" {
		c.Backup.Dir = filepath.Join(filepath.Dir(c.Images.Dir), "backups")
	}
}

// EnsureDirs creates the directories that hold the SQLite file, the images
// and (when scheduled backups are on) the backup files.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Images.Dir}
	if c.Database.URL == "" && c.Database.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	if c.Backup.Schedule != "" && c.Backup.Dir != "" {
		dirs = append(dirs, c.Backup.Dir)
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", d, err)
		}
	}
	return nil
}
