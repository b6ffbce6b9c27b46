package config

import "testing"

func TestDefaultsAreSane(t *testing.T) {
	d := Defaults()
	if d.TrimExtentBytesMin >= d.TrimExtentBytesMax {
		t.Errorf("TrimExtentBytesMin (%d) should be smaller than TrimExtentBytesMax (%d)", d.TrimExtentBytesMin, d.TrimExtentBytesMax)
	}
	if d.ZfsKeyMaxSaltUses == 0 {
		t.Error("ZfsKeyMaxSaltUses must have a nonzero default, or salt rotation would fire immediately")
	}
}

func TestLoadWithMissingConfigFileFallsBackToDefaults(t *testing.T) {
	got, err := Load("/nonexistent/path/storageengine.yaml")
	if err != nil {
		t.Fatalf("Load returned error for a missing config file: %v", err)
	}
	want := Defaults()
	if got != want {
		t.Errorf("Load() = %+v, want defaults %+v", got, want)
	}
}

func TestMergeOverridesNonZeroFields(t *testing.T) {
	base := Defaults()
	override := Tunables{TrimQueueLimit: 99}

	merged, err := Merge(base, override)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if merged.TrimQueueLimit != 99 {
		t.Errorf("TrimQueueLimit = %d, want 99", merged.TrimQueueLimit)
	}
	if merged.TrimExtentBytesMax != base.TrimExtentBytesMax {
		t.Errorf("TrimExtentBytesMax = %d, want unchanged default %d", merged.TrimExtentBytesMax, base.TrimExtentBytesMax)
	}
}
