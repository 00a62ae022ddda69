package fileutil_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dmagent/internal/fileutil"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestWriteStreamAtomicVerifiesChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "artifact.bin")

	sum, n, err := fileutil.WriteStreamAtomic(path, strings.NewReader("payload"), 0o644, digest("payload"))
	if err != nil {
		t.Fatalf("WriteStreamAtomic: %v", err)
	}
	if sum != digest("payload") || n != int64(len("payload")) {
		t.Fatalf("sum=%s n=%d", sum, n)
	}

	_, _, err = fileutil.WriteStreamAtomic(path, strings.NewReader("tampered"), 0o644, digest("payload"))
	if !errors.Is(err, fileutil.ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "payload" {
		t.Fatalf("existing file replaced after mismatch: %q", content)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, "out", "dst.txt")
	sum, err := fileutil.CopyFileVerified(src, dst, "")
	if err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	if sum != digest("hello") {
		t.Fatalf("sum = %s", sum)
	}
	if got, _ := fileutil.FileSHA256(dst); got != sum {
		t.Fatalf("FileSHA256 = %s", got)
	}
	if _, err := fileutil.CopyFileVerified(src, dst, digest("other")); !errors.Is(err, fileutil.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	if _, err := fileutil.CopyFileVerified(dir, dst, ""); err == nil {
		t.Fatal("expected error copying a directory")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := fileutil.WriteFileAtomic(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %o", info.Mode().Perm())
	}
}
