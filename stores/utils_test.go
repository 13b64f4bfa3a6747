package stores

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeFilename(t *testing.T) {
	got := safeFilename("User|some/id:here")
	if strings.ContainsAny(got, "/|:") {
		t.Errorf("unsafe characters survived: %q", got)
	}
	if !strings.HasSuffix(got, ".json") {
		t.Errorf("missing extension: %q", got)
	}
}

func TestWriteAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "row.json")

	if err := writeAtomicFile(path, []byte("first")); err != nil {
		t.Fatalf("writeAtomicFile failed: %v", err)
	}
	if err := writeAtomicFile(path, []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "second" {
		t.Errorf("read back (%q, %v)", data, err)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %q", e.Name())
		}
	}
}
