package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldTime })

	if got := String(); got != "dev (unknown, built unknown)" {
		t.Errorf("String() = %q", got)
	}

	Version, GitSHA, BuildTime = "0.3.1", "4f2a9c81e0d3", "2026-10-01T12:00:00Z"
	if got, want := String(), "0.3.1 (4f2a9c8, built 2026-10-01T12:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
