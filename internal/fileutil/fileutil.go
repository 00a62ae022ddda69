// Package fileutil holds the small file helpers shared by the worker and the
// update engine: atomic writes and checksum-verified copies.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrChecksumMismatch reports content that does not hash to the expected value.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// WriteStreamAtomic copies r into path via a temp file in the same directory
// and renames it into place. When wantSHA256 is non-empty the content must
// match it or nothing is written. It returns the hex digest and byte count.
func WriteStreamAtomic(path string, r io.Reader, mode os.FileMode, wantSHA256 string) (string, int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return "", written, fmt.Errorf("write %s: %w", path, err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if want := strings.TrimSpace(wantSHA256); want != "" && !strings.EqualFold(want, sum) {
		return sum, written, fmt.Errorf("%w: %s want %s got %s", ErrChecksumMismatch, path, want, sum)
	}
	if err := tmp.Chmod(mode); err != nil {
		return sum, written, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return sum, written, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return sum, written, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return sum, written, fmt.Errorf("rename into %s: %w", path, err)
	}
	return sum, written, nil
}

// WriteFileAtomic writes data to path so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	_, _, err := WriteStreamAtomic(path, strings.NewReader(string(data)), mode, "")
	return err
}

// CopyFileVerified copies src to dst atomically, checking the result against
// wantSHA256 when given. dst is left untouched on any failure.
func CopyFileVerified(src, dst, wantSHA256 string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", src)
	}
	sum, written, err := WriteStreamAtomic(dst, in, info.Mode().Perm(), wantSHA256)
	if err != nil {
		return "", err
	}
	if written != info.Size() {
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	return sum, nil
}

// FileSHA256 returns the hex digest of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
