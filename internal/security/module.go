// Package security implements the pure validation gates the request pipeline
// consults before touching a filesystem path: module name sanitization,
// file-path sanitization, Windows-path defense-in-depth checks, and the
// TOCTOU-safe base-directory containment check.
package security

import (
	"unicode"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/mikerrors"
)

const maxModuleNameLen = 255

// SanitizeModuleName validates a module name pulled from a URL path segment.
// It rejects, in order: empty names, null bytes, path separators, the
// special "." / ".." directory names, names over 255 bytes, and control
// characters. A valid name is returned unchanged.
func SanitizeModuleName(log *zap.Logger, name string) (string, error) {
	if name == "" {
		return "", mikerrors.InvalidModuleName("empty name")
	}

	if containsByte(name, 0) {
		log.Warn("blocked module name with null byte",
			zap.String("security_event", "module_injection_attempt"),
			zap.String("reason", "null_byte"),
		)
		return "", mikerrors.InvalidModuleName("null byte")
	}

	if containsAny(name, "/\\") {
		log.Warn("blocked module name with path separator",
			zap.String("security_event", "module_injection_attempt"),
			zap.String("module", name),
			zap.String("reason", "path_separator"),
		)
		return "", mikerrors.InvalidModuleName("path separator")
	}

	if name == "." || name == ".." {
		log.Warn("blocked special directory as module name",
			zap.String("security_event", "module_injection_attempt"),
			zap.String("module", name),
			zap.String("reason", "special_directory"),
		)
		return "", mikerrors.InvalidModuleName("special directory")
	}

	if len(name) > maxModuleNameLen {
		log.Warn("blocked excessively long module name",
			zap.String("security_event", "module_injection_attempt"),
			zap.Int("module_len", len(name)),
			zap.String("reason", "too_long"),
		)
		return "", mikerrors.InvalidModuleName("too long")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			log.Warn("blocked module name with control characters",
				zap.String("security_event", "module_injection_attempt"),
				zap.String("reason", "control_character"),
			)
			return "", mikerrors.InvalidModuleName("control character")
		}
	}

	return name, nil
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

func containsAny(s, chars string) bool {
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(chars); j++ {
			if s[i] == chars[j] {
				return true
			}
		}
	}
	return false
}
