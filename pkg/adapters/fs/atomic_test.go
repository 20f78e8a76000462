package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("Creates New File", func(t *testing.T) {
		tmpDir := t.TempDir()
		fsys := afero.NewBasePathFs(afero.NewOsFs(), tmpDir)
		content := []byte("hello atomic")

		if err := writeFileAtomic(fsys, "test.json", content, 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}

		got, err := os.ReadFile(filepath.Join(tmpDir, "test.json"))
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("Expected content 'hello atomic', got '%s'", string(got))
		}
	})

	t.Run("Overwrites Existing File", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		if err := afero.WriteFile(fsys, "/test.json", []byte("initial"), 0644); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		newContent := []byte("overwritten")
		if err := writeFileAtomic(fsys, "/test.json", newContent, 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}

		got, err := afero.ReadFile(fsys, "/test.json")
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != string(newContent) {
			t.Errorf("Expected content 'overwritten', got '%s'", string(got))
		}
	})

	t.Run("Leaves No Temp Files", func(t *testing.T) {
		tmpDir := t.TempDir()
		fsys := afero.NewBasePathFs(afero.NewOsFs(), tmpDir)
		for i := 0; i < 3; i++ {
			if err := writeFileAtomic(fsys, "again.json", []byte("x"), 0644); err != nil {
				t.Fatalf("writeFileAtomic failed: %v", err)
			}
		}

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), TempFilePrefix) {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
		if len(entries) != 1 {
			t.Errorf("Expected 1 file, got %d", len(entries))
		}
	})

	t.Run("Stays Inside Base Path", func(t *testing.T) {
		tmpDir := t.TempDir()
		fsys := afero.NewBasePathFs(afero.NewOsFs(), tmpDir)
		if err := fsys.MkdirAll("nested", 0755); err != nil {
			t.Fatal(err)
		}
		if err := writeFileAtomic(fsys, "nested/bundle.json", []byte("[]"), 0644); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}

		entries, err := os.ReadDir(filepath.Join(tmpDir, "nested"))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != "bundle.json" {
			t.Errorf("unexpected entries in nested dir: %v", entries)
		}
	})

	t.Run("Fails if Directory Missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "missing", "test.json")

		if err := writeFileAtomic(afero.NewOsFs(), filename, []byte("x"), 0644); err == nil {
			t.Error("Expected error when directory is missing")
		}
	})
}
