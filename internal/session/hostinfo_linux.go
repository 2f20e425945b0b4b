//go:build linux

package session

import (
	"os"
	"strings"
)

// osVersion reads /etc/os-release for a friendly name.
func osVersion() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "Linux"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if val, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(val, "\"")
		}
	}
	return "Linux"
}
