package hyvelog

import "testing"

func TestLevelFromConfigString(t *testing.T) {
	cases := map[string]bool{
		"none": true, "error": true, "warn": true, "info": true, "debug": true, "trace": true,
	}
	for level, wantOK := range cases {
		_, err := levelFromConfigString(level)
		if (err == nil) != wantOK {
			t.Fatalf("levelFromConfigString(%q): err=%v, want ok=%v", level, err, wantOK)
		}
	}
}

func TestLevelFromConfigStringRejectsUnknown(t *testing.T) {
	if _, err := levelFromConfigString("verbose"); err == nil {
		t.Fatal("expected an error for an unrecognized level, got nil")
	}
}

func TestSetLevelAppliesRecognizedLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel(info): %v", err)
	}
}

func TestSetLevelRejectsUnknownAndLeavesRootUsable(t *testing.T) {
	if err := SetLevel("bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized level, got nil")
	}
	// root logger must still be usable after a rejected SetLevel call.
	New("component", "test").Info("still alive")
}
