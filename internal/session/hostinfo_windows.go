//go:build windows

package session

import (
	"os/exec"
	"strings"
)

// osVersion reads the OS caption via PowerShell.
func osVersion() string {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		"(Get-CimInstance Win32_OperatingSystem).Caption").Output()
	if err != nil {
		return "Windows"
	}
	if v := strings.TrimSpace(string(out)); v != "" {
		return v
	}
	return "Windows"
}
