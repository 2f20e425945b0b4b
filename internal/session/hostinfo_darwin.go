//go:build darwin

package session

import (
	"os/exec"
	"strings"
)

// osVersion returns a string like "macOS 15.2".
func osVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "macOS"
	}
	return "macOS " + strings.TrimSpace(string(out))
}
