package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		ver, com    string
		built       string
		vcs         vcs
		wantVersion string
		wantCommit  string
		wantBuilt   string
	}{
		{"no_info", "dev", "unknown", "", vcs{}, "dev", "unknown", "unknown"},
		{"vcs_fallback", "dev", "", "", vcs{revision: "abc123", time: "2026-01-02T03:04:05Z"}, "dev+abc123", "abc123", "2026-01-02 03:04:05 UTC"},
		{"dirty", "", "unknown", "", vcs{revision: "abc123", modified: true}, "dev+abc123-dirty", "abc123-dirty", "unknown"},
		{"ldflags_win", "v1.0.0", "deadbeef", "2026-05-01T00:00:00Z", vcs{revision: "abc123"}, "v1.0.0", "deadbeef", "2026-05-01 00:00:00 UTC"},
		{"unparsable_time", "v1", "c", "yesterday", vcs{}, "v1", "c", "yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(tt.ver, tt.com, tt.built, tt.vcs)
			if got.Version != tt.wantVersion || got.Commit != tt.wantCommit || got.BuildTime != tt.wantBuilt {
				t.Errorf("resolve = %+v", got)
			}
			if got.Runtime != runtime.GOOS+"/"+runtime.GOARCH {
				t.Errorf("Runtime = %q", got.Runtime)
			}
		})
	}
}

func TestShortCommit(t *testing.T) {
	if got := shortCommit(" 0123456789abcdef "); got != "0123456789ab" {
		t.Errorf("shortCommit = %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Errorf("shortCommit = %q", got)
	}
}

func TestInfoString(t *testing.T) {
	s := Info{Version: "v1", Commit: "c", BuildTime: "t", Runtime: "r"}.String()
	for _, want := range []string{"v1", "c", "t", "r"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
