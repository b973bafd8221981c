package output

import (
	"os"
	"testing"
)

func TestIsColorSupported_NoColor(t *testing.T) {
	ResetColorDetection()
	t.Cleanup(ResetColorDetection)

	t.Setenv("NO_COLOR", "1")

	if IsColorSupported() {
		t.Error("NO_COLOR set, expected colors disabled")
	}
}

func TestIsColorSupported_ForceColor(t *testing.T) {
	ResetColorDetection()
	t.Cleanup(ResetColorDetection)

	// NO_COLOR wins over FORCE_COLOR; t.Setenv registers the restore, then
	// the variable is removed for the duration of the test.
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	t.Setenv("FORCE_COLOR", "1")

	if !IsColorSupported() {
		t.Error("FORCE_COLOR set, expected colors enabled")
	}
}

func TestIsColorSupported_Cached(t *testing.T) {
	ResetColorDetection()
	t.Cleanup(ResetColorDetection)

	t.Setenv("NO_COLOR", "1")
	if IsColorSupported() {
		t.Fatal("NO_COLOR set, expected colors disabled")
	}

	// Changing the environment after detection does not change the answer
	// until the cache is reset.
	os.Unsetenv("NO_COLOR")
	t.Setenv("FORCE_COLOR", "1")
	if IsColorSupported() {
		t.Error("expected cached detection result")
	}

	ResetColorDetection()
	if !IsColorSupported() {
		t.Error("expected re-detection after reset")
	}
}
