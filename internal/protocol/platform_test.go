package protocol

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestPlatformFor(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"linux", "desktop"},
		{"darwin", "desktop"},
		{"windows", "desktop"},
		{"android", "android"},
		{"ios", "ios"},
	}
	for _, tt := range tests {
		got := PlatformFor(tt.goos)
		if got.Kind != tt.want || got.OS != tt.goos {
			t.Errorf("PlatformFor(%q) = %+v, want kind %q", tt.goos, got, tt.want)
		}
	}
	if CurrentPlatform().OS != runtime.GOOS {
		t.Errorf("CurrentPlatform().OS = %q", CurrentPlatform().OS)
	}
}

// TestPrivateTimedDataWire 回复信封的 JSON 字段名是 UI 依赖的线上格式。
func TestPrivateTimedDataWire(t *testing.T) {
	td := PrivateTimedData{UTCMillis: 42, Data: PrivateReplyMessage{What: PvyServerError, Content: "not logged in", ClosureID: "c"}}
	raw, err := json.Marshal(td)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"utcmillis":42,"data":{"what":"ServerError","content":"not logged in","closure_id":"c"}}`
	if string(raw) != want {
		t.Errorf("json = %s, want %s", raw, want)
	}
}
