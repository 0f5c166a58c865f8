package config

import "testing"

func TestValidateRejectsOutOfRangeGCPercent(t *testing.T) {
	tuning := DefaultRuntimeTuning()
	tuning.GCPercent = 10
	if err := Validate(tuning); err == nil {
		t.Fatal("expected error for gc_percent below range")
	}
}

func TestValidateRejectsZeroMemoryLimitWhenEnabled(t *testing.T) {
	tuning := DefaultRuntimeTuning()
	tuning.MemoryLimitBytes = 0
	if err := Validate(tuning); err == nil {
		t.Fatal("expected error for zero memory limit with EnableMemoryLimit set")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(DefaultRuntimeTuning()); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
