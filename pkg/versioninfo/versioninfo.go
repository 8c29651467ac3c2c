// Package versioninfo carries build metadata injected with -ldflags, e.g.
// -X github.com/edgeflare/txeventq/pkg/versioninfo.version=v1.2.3.
package versioninfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	version   = "dev"
	gitCommit string
	buildDate string
)

type VersionInfo struct {
	Version string
	Commit  string
	Built   string
}

func Current() VersionInfo {
	return VersionInfo{Version: version, Commit: gitCommit, Built: buildDate}
}

// String renders the multi-line form printed by --version.
func (v VersionInfo) String() string {
	o := &strings.Builder{}
	field := func(name, value string) {
		_, _ = fmt.Fprintf(o, "%-12s : %s\n", name, value)
	}
	field("Version", v.Version)
	field("Go-Version", runtime.Version())
	field("Go-Arch", runtime.GOARCH)
	field("Go-Os", runtime.GOOS)
	field("BuildDate", v.Built)
	field("Git-Commit", v.Commit)
	return o.String()
}
