package inject

import "fmt"

// X11 keysyms for the keys with special names.
const (
	keyBackSpace = 0xff08
	keyTab       = 0xff09
	keyReturn    = 0xff0d
	keyEscape    = 0xff1b
	keyDelete    = 0xffff
	keyHome      = 0xff50
	keyLeft      = 0xff51
	keyUp        = 0xff52
	keyRight     = 0xff53
	keyDown      = 0xff54
	keyPageUp    = 0xff55
	keyPageDown  = 0xff56
	keyEnd       = 0xff57
	keyShiftL    = 0xffe1
	keyControlL  = 0xffe3
	keyAltL      = 0xffe9
)

var xdotoolNames = map[uint32]string{
	keyBackSpace: "BackSpace",
	keyTab:       "Tab",
	keyReturn:    "Return",
	keyEscape:    "Escape",
	keyDelete:    "Delete",
	keyHome:      "Home",
	keyLeft:      "Left",
	keyUp:        "Up",
	keyRight:     "Right",
	keyDown:      "Down",
	keyPageUp:    "Prior",
	keyPageDown:  "Next",
	keyEnd:       "End",
	keyShiftL:    "Shift_L",
	keyControlL:  "Control_L",
	keyAltL:      "Alt_L",
	' ':          "space",
}

// xdotoolKey maps a keysym to an xdotool key name. Printable Latin-1
// keysyms equal their character codes.
func xdotoolKey(code uint32) (string, bool) {
	if name, ok := xdotoolNames[code]; ok {
		return name, true
	}
	if isAlnum(code) {
		return string(rune(code)), true
	}
	if code >= 0x21 && code <= 0xff {
		return fmt.Sprintf("0x%x", code), true
	}
	return "", false
}

var appleKeyCodes = map[uint32]int{
	keyReturn:    36,
	keyTab:       48,
	' ':          49,
	keyBackSpace: 51,
	keyEscape:    53,
	keyLeft:      123,
	keyRight:     124,
	keyDown:      125,
	keyUp:        126,
}

func appleScriptKey(code uint32) (string, bool) {
	if kc, ok := appleKeyCodes[code]; ok {
		return fmt.Sprintf(`tell application "System Events" to key code %d`, kc), true
	}
	if code >= 0x21 && code <= 0x7e && code != '"' && code != '\\' {
		return fmt.Sprintf(`tell application "System Events" to keystroke "%c"`, rune(code)), true
	}
	return "", false
}

var sendKeysNames = map[uint32]string{
	keyReturn:    "{ENTER}",
	keyTab:       "{TAB}",
	keyBackSpace: "{BACKSPACE}",
	keyEscape:    "{ESC}",
	keyDelete:    "{DELETE}",
	keyHome:      "{HOME}",
	keyEnd:       "{END}",
	keyPageUp:    "{PGUP}",
	keyPageDown:  "{PGDN}",
	keyLeft:      "{LEFT}",
	keyUp:        "{UP}",
	keyRight:     "{RIGHT}",
	keyDown:      "{DOWN}",
	' ':          " ",
}

func sendKeysKey(code uint32) (string, bool) {
	if s, ok := sendKeysNames[code]; ok {
		return s, true
	}
	if code < 0x21 || code > 0x7e {
		return "", false
	}
	switch c := rune(code); c {
	case '+', '^', '%', '~', '(', ')', '{', '}', '[', ']':
		// SendKeys metacharacters are typed by bracing them.
		return "{" + string(c) + "}", true
	default:
		return string(c), true
	}
}

func isAlnum(code uint32) bool {
	return (code >= '0' && code <= '9') || (code >= 'a' && code <= 'z') || (code >= 'A' && code <= 'Z')
}
