// Package buildinfo 构建版本信息: -ldflags 注入值优先, 否则回落到 Go 模块的 VCS 信息。
//
//	go build -ldflags "-X github.com/zknotes/zknotes-bridge/internal/buildinfo.version=v1.2.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = ""
)

// Info 构建信息。
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Runtime   string `json:"runtime"`
}

// String 单行展示。
func (i Info) String() string {
	return fmt.Sprintf("%s (%s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.Runtime)
}

type vcs struct {
	revision string
	time     string
	modified bool
}

func readVCS() vcs {
	var v vcs
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = shortCommit(s.Value)
		case "vcs.time":
			v.time = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v.modified = strings.TrimSpace(s.Value) == "true"
		}
	}
	return v
}

func shortCommit(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

// Current 返回当前进程的构建信息。
func Current() Info {
	return resolve(version, commit, buildTime, readVCS())
}

func resolve(ver, com, built string, v vcs) Info {
	dirty := ""
	if v.modified {
		dirty = "-dirty"
	}

	ver = strings.TrimSpace(ver)
	if ver == "" || ver == "dev" {
		ver = "dev"
		if v.revision != "" {
			ver = "dev+" + v.revision + dirty
		}
	}

	com = strings.TrimSpace(com)
	if com == "" || com == "unknown" {
		com = "unknown"
		if v.revision != "" {
			com = v.revision + dirty
		}
	}

	built = strings.TrimSpace(built)
	if built == "" || built == "unknown" {
		built = v.time
	}
	if built == "" {
		built = "unknown"
	} else if t, err := time.Parse(time.RFC3339, built); err == nil {
		built = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	return Info{
		Version:   ver,
		Commit:    com,
		BuildTime: built,
		Runtime:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
