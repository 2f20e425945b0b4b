//go:build !linux && !darwin && !windows

package session

import "runtime"

func osVersion() string { return runtime.GOOS }
