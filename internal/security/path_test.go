package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSanitizeFilePath(t *testing.T) {
	log := zap.NewNop()

	valid := []string{"normal_file.txt", "my_folder/file.txt", "index.html"}
	for _, p := range valid {
		_, err := SanitizeFilePath(log, p)
		assert.NoErrorf(t, err, "expected %q to be valid", p)
	}

	invalid := []string{
		"",
		"/etc/passwd",
		"../../etc/passwd",
		"C:\\Windows\\system32",
		`\\server\share`,
		"file.txt:hidden",
		"CON",
		"con.txt",
		"folder/NUL",
	}
	for _, p := range invalid {
		_, err := SanitizeFilePath(log, p)
		assert.Errorf(t, err, "expected %q to be rejected", p)
	}
}

func TestValidateWindowsPath(t *testing.T) {
	log := zap.NewNop()
	assert.NoError(t, ValidateWindowsPath(log, "normal_file.txt"))
	assert.Error(t, ValidateWindowsPath(log, `\\server\share`))
	assert.Error(t, ValidateWindowsPath(log, "file.txt:hidden"))
	assert.Error(t, ValidateWindowsPath(log, "CON"))
}

func TestValidatePathWithinBase_Valid(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "test.txt"), []byte("test"), 0o644))

	_, err := ValidatePathWithinBase(base, "test.txt")
	assert.NoError(t, err)
}

func TestValidatePathWithinBase_Nonexistent(t *testing.T) {
	base := t.TempDir()
	_, err := ValidatePathWithinBase(base, "nonexistent.txt")
	assert.NoError(t, err)
}

func TestValidatePathWithinBase_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	evilDir := t.TempDir()

	evilFile := filepath.Join(evilDir, "secret.txt")
	require.NoError(t, os.WriteFile(evilFile, []byte("secret"), 0o644))

	symlinkPath := filepath.Join(base, "evil_link")
	if err := os.Symlink(evilFile, symlinkPath); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := ValidatePathWithinBase(base, "evil_link")
	assert.Error(t, err)
}

func TestValidatePathWithinBase_SafeInternalSymlink(t *testing.T) {
	base := t.TempDir()
	realFile := filepath.Join(base, "real_file.txt")
	require.NoError(t, os.WriteFile(realFile, []byte("real"), 0o644))

	linkFile := filepath.Join(base, "link_file.txt")
	if err := os.Symlink(realFile, linkFile); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := ValidatePathWithinBase(base, "link_file.txt")
	assert.NoError(t, err)
}
