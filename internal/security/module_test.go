package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSanitizeModuleName(t *testing.T) {
	log := zap.NewNop()

	valid := []string{"api", "user-service", "my_module", "a", strings.Repeat("a", 255), "...", ".hidden", "file.txt"}
	for _, name := range valid {
		_, err := SanitizeModuleName(log, name)
		assert.NoErrorf(t, err, "expected %q to be valid", name)
	}

	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"null byte", "api\x00"},
		{"path separator slash", "api/users"},
		{"path separator backslash", "bad\\module"},
		{"dot", "."},
		{"dotdot", ".."},
		{"too long", strings.Repeat("a", 256)},
		{"control char", "mod\x01ule"},
		{"newline", "module\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SanitizeModuleName(log, tc.input)
			assert.Error(t, err)
		})
	}
}

func TestSanitizeModuleNameIdempotent(t *testing.T) {
	log := zap.NewNop()
	for _, name := range []string{"api", "module.wasm", "mix3d-numb3rs_123"} {
		out, err := SanitizeModuleName(log, name)
		assert.NoError(t, err)
		out2, err := SanitizeModuleName(log, out)
		assert.NoError(t, err)
		assert.Equal(t, out, out2)
	}
}
