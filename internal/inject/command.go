// Package inject replays viewer input on the host by shelling out to the
// platform's automation tool: xdotool on Linux, cliclick and osascript on
// macOS, PowerShell on Windows.
package inject

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Command is an InputInjector backed by external commands. Key codes are
// X11 keysyms. It is safe for use by one session at a time.
type Command struct {
	goos string
	log  *slog.Logger

	// run and lookPath are replaced in tests.
	run      func(name string, args ...string) error
	lookPath func(string) (string, error)

	checkOnce sync.Once
	available bool

	mu   sync.Mutex
	mask uint8
}

// New returns an injector for the running OS. If log is nil, slog.Default()
// is used.
func New(log *slog.Logger) *Command {
	return newCommand(runtime.GOOS, log)
}

func newCommand(goos string, log *slog.Logger) *Command {
	if log == nil {
		log = slog.Default()
	}
	return &Command{
		goos:     goos,
		log:      log.With("component", "inject"),
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// tool returns the command needed for pointer input.
func (c *Command) tool() string {
	switch c.goos {
	case "linux":
		return "xdotool"
	case "darwin":
		return "cliclick"
	case "windows":
		return "powershell"
	}
	return ""
}

// ready reports whether the platform tool exists, logging once if not.
func (c *Command) ready() bool {
	c.checkOnce.Do(func() {
		name := c.tool()
		if name == "" {
			c.log.Warn("input injection not supported", "os", c.goos)
			return
		}
		if _, err := c.lookPath(name); err != nil {
			c.log.Warn("input tool not found, input will be ignored", "tool", name)
			return
		}
		c.available = true
		c.log.Info("input control enabled", "tool", name)
	})
	return c.available
}

// Pointer moves the pointer and presses or releases the buttons whose bits
// changed since the previous event. Wheel bits produce one click each.
func (c *Command) Pointer(x, y int, mask uint8) error {
	if !c.ready() {
		return nil
	}
	c.mu.Lock()
	prev := c.mask
	c.mask = mask &^ (protocol.WheelUp | protocol.WheelDown)
	c.mu.Unlock()

	switch c.goos {
	case "linux":
		return c.pointerLinux(x, y, prev, mask)
	case "darwin":
		return c.pointerDarwin(x, y, prev, mask)
	default:
		return c.pointerWindows(x, y, prev, mask)
	}
}

// Key presses or releases the key with X11 keysym code.
func (c *Command) Key(code uint32, pressed bool) error {
	if !c.ready() {
		return nil
	}
	switch c.goos {
	case "linux":
		name, ok := xdotoolKey(code)
		if !ok {
			c.log.Debug("unmapped key", "keysym", code)
			return nil
		}
		action := "keyup"
		if pressed {
			action = "keydown"
		}
		return c.run("xdotool", action, name)
	case "darwin":
		// osascript only types whole keystrokes.
		if !pressed {
			return nil
		}
		script, ok := appleScriptKey(code)
		if !ok {
			return nil
		}
		return c.run("osascript", "-e", script)
	default:
		if !pressed {
			return nil
		}
		keys, ok := sendKeysKey(code)
		if !ok {
			return nil
		}
		return c.run("powershell", "-NoProfile", "-Command",
			fmt.Sprintf("Add-Type -AssemblyName System.Windows.Forms\n[System.Windows.Forms.SendKeys]::SendWait(%q)", keys))
	}
}

// buttons lists the mask bits with their xdotool button numbers.
var buttons = []struct {
	bit uint8
	num string
}{
	{protocol.ButtonLeft, "1"},
	{protocol.ButtonMiddle, "2"},
	{protocol.ButtonRight, "3"},
}

func (c *Command) pointerLinux(x, y int, prev, mask uint8) error {
	if err := c.run("xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return err
	}
	for _, b := range buttons {
		switch {
		case mask&b.bit != 0 && prev&b.bit == 0:
			if err := c.run("xdotool", "mousedown", b.num); err != nil {
				return err
			}
		case mask&b.bit == 0 && prev&b.bit != 0:
			if err := c.run("xdotool", "mouseup", b.num); err != nil {
				return err
			}
		}
	}
	if mask&protocol.WheelUp != 0 {
		return c.run("xdotool", "click", "4")
	}
	if mask&protocol.WheelDown != 0 {
		return c.run("xdotool", "click", "5")
	}
	return nil
}

func (c *Command) pointerDarwin(x, y int, prev, mask uint8) error {
	pos := fmt.Sprintf("%d,%d", x, y)
	args := []string{"m:" + pos}
	if down := mask &^ prev; down&protocol.ButtonLeft != 0 {
		args = append(args, "dd:"+pos)
	}
	if up := prev &^ mask; up&protocol.ButtonLeft != 0 {
		args = append(args, "du:"+pos)
	}
	if down := mask &^ prev; down&protocol.ButtonRight != 0 {
		args = append(args, "rc:"+pos)
	}
	return c.run("cliclick", args...)
}

func (c *Command) pointerWindows(x, y int, prev, mask uint8) error {
	var flags []string
	for _, b := range []struct {
		bit      uint8
		down, up string
	}{
		{protocol.ButtonLeft, "0x0002", "0x0004"},
		{protocol.ButtonRight, "0x0008", "0x0010"},
		{protocol.ButtonMiddle, "0x0020", "0x0040"},
	} {
		switch {
		case mask&b.bit != 0 && prev&b.bit == 0:
			flags = append(flags, b.down)
		case mask&b.bit == 0 && prev&b.bit != 0:
			flags = append(flags, b.up)
		}
	}
	return c.run("powershell", "-NoProfile", "-Command", windowsMouseScript(x, y, flags))
}

// windowsMouseScript moves the cursor to (x, y) and fires one mouse_event
// per flag.
func windowsMouseScript(x, y int, flags []string) string {
	script := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
[System.Windows.Forms.Cursor]::Position = New-Object System.Drawing.Point(%d, %d)
`, x, y)
	if len(flags) == 0 {
		return script
	}
	script += `$signature = @"
[DllImport("user32.dll")]
public static extern void mouse_event(int dwFlags, int dx, int dy, int dwData, int dwExtraInfo);
"@
$mouse = Add-Type -MemberDefinition $signature -Name "MouseEvent" -Namespace "Win32" -PassThru
`
	for _, f := range flags {
		script += fmt.Sprintf("$mouse::mouse_event(%s, 0, 0, 0, 0)\n", f)
	}
	return script
}
