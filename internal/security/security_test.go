package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "sys")
	outside := filepath.Join(tmpDir, "etc")
	if err := os.MkdirAll(filepath.Join(safeDir, "class", "gpio"), 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatalf("Failed to create outside directory: %v", err)
	}

	// a symlink inside the root pointing out of it
	symlinkPath := filepath.Join(safeDir, "evil")
	if err := os.Symlink(outside, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"existing directory", filepath.Join(safeDir, "class", "gpio"), false},
		{"missing file under root", filepath.Join(safeDir, "class", "gpio", "gpio46", "value"), false},
		{"root itself", safeDir, false},
		{"dot dot escape", filepath.Join(safeDir, "..", "etc", "shadow"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"through symlink", filepath.Join(symlinkPath, "passwd"), true},
		{"symlink itself", symlinkPath, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "absent")
	if err := ValidatePathWithinDirectory(filepath.Join(root, "in_voltage0_raw"), root); err != nil {
		t.Errorf("lexically contained path rejected: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(root, "..", "x"), root); err == nil {
		t.Error("escape from a missing root accepted")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}); err == nil {
		t.Error("path outside all dirs accepted")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "f"), nil); err == nil {
		t.Error("empty allow list accepted")
	}
}

func TestSanitizeTopicLevel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Device_Watchc01", "Device_Watchc01"},
		{"wrist/left", "wrist_left"},
		{"a+b#c", "a_b_c"},
		{"  spaced  out ", "spaced_out"},
		{"//", "unknown"},
		{"", "unknown"},
		{"montre-é", "montre-é"},
	}
	for _, tt := range tests {
		if got := SanitizeTopicLevel(tt.in); got != tt.want {
			t.Errorf("SanitizeTopicLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
