package security

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/mikerrors"
)

// windowsReservedNames are device names Windows treats specially regardless
// of extension.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilePath validates a relative path requested under a static or
// script root. It rejects null bytes, absolute paths (Unix and Windows
// drive-letter form), and any ".." component that would escape the base
// once the path is cleaned. It then runs ValidateWindowsPath as a
// defense-in-depth pass regardless of host OS.
func SanitizeFilePath(log *zap.Logger, p string) (string, error) {
	if p == "" {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "empty path")
	}
	if containsByte(p, 0) {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "null byte in path")
	}
	if strings.HasPrefix(p, "/") {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "absolute path")
	}
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "absolute windows path")
	}

	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", mikerrors.New(mikerrors.KindInvalidRequest, "path escapes base via ..")
		}
	}

	if err := ValidateWindowsPath(log, p); err != nil {
		return "", err
	}

	return strings.TrimPrefix(p, "./"), nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ValidateWindowsPath runs the defense-in-depth checks that apply on every
// platform regardless of what OS the host process is running on: UNC
// prefixes, alternate-data-stream colons, and reserved device-name stems.
func ValidateWindowsPath(log *zap.Logger, p string) error {
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
		log.Warn("blocked UNC path",
			zap.String("security_event", "windows_path_attack"),
			zap.String("reason", "unc_path"),
		)
		return mikerrors.New(mikerrors.KindInvalidRequest, "UNC path")
	}

	if idx := strings.IndexByte(p, ':'); idx >= 0 && idx != 1 {
		log.Warn("blocked path with alternate data stream",
			zap.String("security_event", "windows_path_attack"),
			zap.String("reason", "alternate_data_stream"),
		)
		return mikerrors.New(mikerrors.KindInvalidRequest, "alternate data stream")
	}

	for _, component := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if component == "" {
			continue
		}
		stem := component
		if dot := strings.IndexByte(stem, '.'); dot >= 0 {
			stem = stem[:dot]
		}
		if windowsReservedNames[strings.ToUpper(stem)] {
			log.Warn("blocked path with Windows reserved device name",
				zap.String("security_event", "windows_path_attack"),
				zap.String("component", component),
				zap.String("reason", "reserved_device_name"),
			)
			return mikerrors.New(mikerrors.KindInvalidRequest, "reserved Windows device name")
		}
	}

	return nil
}
