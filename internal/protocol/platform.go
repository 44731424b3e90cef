package protocol

import "runtime"

// Platform 宿主平台标签。Kind 取 desktop / android / ios, OS 为 runtime.GOOS 原值。
type Platform struct {
	Kind string `json:"kind"`
	OS   string `json:"os"`
}

// PlatformFor 按 GOOS 映射平台标签。
func PlatformFor(goos string) Platform {
	switch goos {
	case "android":
		return Platform{Kind: "android", OS: goos}
	case "ios":
		return Platform{Kind: "ios", OS: goos}
	default:
		return Platform{Kind: "desktop", OS: goos}
	}
}

// CurrentPlatform 当前进程的平台标签。
func CurrentPlatform() Platform { return PlatformFor(runtime.GOOS) }
