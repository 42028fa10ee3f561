package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

// runCmd executes the root command with args against a throwaway data
// directory and returns its combined output.
func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// useTempData points every data path at dir and clears settings that would
// reach external services.
func useTempData(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(dir, "db", "material_rq.db"))
	t.Setenv("IMAGES_DIR", filepath.Join(dir, "images"))
	t.Setenv("BACKUP_DIR", filepath.Join(dir, "backups"))
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDRESS", "SLACK_WEBHOOK_URL", "DISCORD_WEBHOOK_URL", "BACKUP_SCHEDULE", "STATUS_POLICY"} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

// baseArgs are flags that keep commands away from files in the working
// directory.
func baseArgs(dir string, args ...string) []string {
	return append(args,
		"--config", filepath.Join(dir, "absent.yaml"),
		"--env-file", filepath.Join(dir, "absent.env"),
	)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "matreq dev") {
		t.Errorf("expected output to contain 'matreq dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"matreq 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "", "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"serve", "db", "export", "version", "--config"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help missing %q", sub)
		}
	}
}

func TestDBCmd_Help(t *testing.T) {
	out, err := runCmd(t, "", "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	for _, sub := range []string{"init", "reset", "renumber", "backup", "restore"} {
		if !strings.Contains(out, sub) {
			t.Errorf("db help missing %q", sub)
		}
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	useTempData(t, dir)
	cfgPath := filepath.Join(dir, "matreq.yaml")
	writeFile(t, cfgPath, "requests:\n  status_policy: strict\n")

	_, err := runCmd(t, "", "db", "init", "--config", cfgPath, "--env-file", filepath.Join(dir, "absent.env"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestLoadConfig_UnsupportedDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	useTempData(t, dir)
	t.Setenv("DATABASE_URL", "oracle://db/matreq")

	_, err := runCmd(t, "", baseArgs(dir, "db", "init")...)
	if err == nil || !strings.Contains(err.Error(), "unsupported database url scheme") {
		t.Errorf("err = %v, want unsupported scheme", err)
	}
}
