package session

import (
	"os"
	"runtime"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/version"
)

// CollectHostInfo builds the hello the host sends after the handshake.
func CollectHostInfo(name string, screen protocol.Size) *protocol.HostInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if name == "" {
		name = hostname
	}
	return &protocol.HostInfo{
		Name:      name,
		Hostname:  hostname,
		OS:        runtime.GOOS,
		OSVersion: osVersion(),
		Arch:      runtime.GOARCH,
		Version:   version.Version,
		Screen:    screen,
	}
}
