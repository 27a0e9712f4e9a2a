package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storedump/internal/dump"
	"storedump/internal/store"
	boltstore "storedump/internal/store/bolt"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	cfg := `
[database]
backend = "bolt"
path = "` + filepath.Join(dir, "db", "data.db") + `"

[log]
level = "error"

[[stores]]
name = "users"
key_path = "id"

[[stores]]
name = "blobs"
`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeConfig(t, dir)

	out, err := run(t, "", "--config", cfg, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "created 2 of 2 stores") {
		t.Errorf("init output: %q", out)
	}
	out, err = run(t, "", "--config", cfg, "init")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "created 0 of 2 stores") {
		t.Errorf("second init output: %q", out)
	}

	doc := `{"blobs":[{"b":"@ab:\u0000ÿ"}],"users":[{"id":1,"name":"ann"},{"id":2,"name":"bob"}]}`
	docPath := filepath.Join(dir, "in.json")
	if err := os.WriteFile(docPath, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "", "--config", cfg, "import", "-i", docPath); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err = run(t, "", "--config", cfg, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out != doc+"\n" {
		t.Errorf("export: got %q, want %q", out, doc)
	}

	out, err = run(t, "", "--config", cfg, "stores")
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	if !strings.Contains(out, "users") || !strings.Contains(out, "blobs") {
		t.Errorf("stores output: %q", out)
	}

	markerPath := filepath.Join(dir, "marker.json")
	if _, err := run(t, "", "--config", cfg, "export", "--binary", "marker", "-o", markerPath); err != nil {
		t.Fatalf("export marker: %v", err)
	}
	data, err := os.ReadFile(markerPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `{"$type":"bytes","data":"AP8="}`) {
		t.Errorf("marker export: %s", data)
	}

	if _, err := run(t, "", "--config", cfg, "clear"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, err = run(t, "", "--config", cfg, "export")
	if err != nil {
		t.Fatalf("export after clear: %v", err)
	}
	if out != `{"blobs":[],"users":[]}`+"\n" {
		t.Errorf("export after clear: %q", out)
	}

	// stdin import of the marker document restores the buffers
	if _, err := run(t, string(data), "--config", cfg, "import", "--binary", "marker"); err != nil {
		t.Fatalf("import marker: %v", err)
	}
	out, err = run(t, "", "--config", cfg, "export")
	if err != nil {
		t.Fatalf("export after marker import: %v", err)
	}
	if out != doc+"\n" {
		t.Errorf("export after marker import: got %q", out)
	}
}

func TestCLIImportUnknownStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeConfig(t, dir)
	if _, err := run(t, "", "--config", cfg, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := run(t, `{"ghosts":[]}`, "--config", cfg, "import")
	if err == nil {
		t.Fatal("expected error for unknown store")
	}
	if !strings.Contains(err.Error(), dump.ErrUnknownStore.Error()) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCLIInvalidOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeConfig(t, dir)

	if _, err := run(t, "", "--config", cfg, "--backend", "sqlite", "stores"); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := run(t, "", "--config", cfg, "export", "--binary", "hex"); err == nil {
		t.Error("expected error for unknown binary format")
	}
}

func TestCLIMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	out, err := run(t, "", "--backend", "memory", "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out != "{}\n" {
		t.Errorf("export: got %q", out)
	}
	out, err = run(t, "", "--backend", "memory", "stores")
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	if !strings.Contains(out, "(none)") {
		t.Errorf("stores: got %q", out)
	}
}

func TestCLIFailedExportKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeConfig(t, dir)
	if _, err := run(t, "", "--config", cfg, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}

	backup := filepath.Join(dir, "backup.json")
	previous := `{"users":[{"id":1}]}` + "\n"
	if err := os.WriteFile(backup, []byte(previous), 0644); err != nil {
		t.Fatal(err)
	}

	// NaN has no JSON form, so the export fails after reading the stores.
	db, err := boltstore.Open(filepath.Join(dir, "db", "data.db"))
	if err != nil {
		t.Fatal(err)
	}
	tx, err := db.Begin([]string{"users"}, store.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Add("users", map[string]any{"id": 1, "score": math.NaN()}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "", "--config", cfg, "export", "-o", backup); err == nil {
		t.Fatal("expected export to fail on NaN")
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != previous {
		t.Errorf("backup changed by failed export: %q", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestCLIExportReplacesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfg := writeConfig(t, dir)
	if _, err := run(t, "", "--config", cfg, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}

	backup := filepath.Join(dir, "backup.json")
	if err := os.WriteFile(backup, []byte("stale content that is longer than the export"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "", "--config", cfg, "export", "-o", backup); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"blobs":[],"users":[]}`+"\n" {
		t.Errorf("export file: %q", data)
	}
}

func TestCLIMemoryBackendRefusesWrites(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	for _, args := range [][]string{
		{"--backend", "memory", "init"},
		{"--backend", "memory", "import"},
		{"--backend", "memory", "clear"},
	} {
		_, err := run(t, "{}", args...)
		if !errors.Is(err, errEphemeral) {
			t.Errorf("%v: err = %v, want errEphemeral", args, err)
		}
	}
}
