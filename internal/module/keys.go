package module

import (
	"fmt"
	"sort"
	"strings"
)

// KeyCode is an input button code as the host numbers them: keyboard keys
// first, then mouse buttons, then joystick buttons. KeyNone means unbound.
type KeyCode int

// Button codes with stable names. The full range runs to ButtonCodeLast.
const (
	KeyNone      KeyCode = 0
	Key0         KeyCode = 1
	KeyA         KeyCode = 11
	KeyEnter     KeyCode = 64
	KeySpace     KeyCode = 65
	KeyBackspace KeyCode = 66
	KeyTab       KeyCode = 67
	KeyEscape    KeyCode = 70
	KeyF1        KeyCode = 92
	KeyF12       KeyCode = 103

	MouseLeft      KeyCode = 107
	MouseRight     KeyCode = 108
	MouseMiddle    KeyCode = 109
	Mouse4         KeyCode = 110
	Mouse5         KeyCode = 111
	MouseWheelUp   KeyCode = 112
	MouseWheelDown KeyCode = 113

	ButtonCodeLast KeyCode = 171
)

var keyNames = buildKeyNames()

func buildKeyNames() map[KeyCode]string {
	names := map[KeyCode]string{
		KeyNone:        "KEY_NONE",
		KeyEnter:       "KEY_ENTER",
		KeySpace:       "KEY_SPACE",
		KeyBackspace:   "KEY_BACKSPACE",
		KeyTab:         "KEY_TAB",
		KeyEscape:      "KEY_ESCAPE",
		MouseLeft:      "MOUSE_LEFT",
		MouseRight:     "MOUSE_RIGHT",
		MouseMiddle:    "MOUSE_MIDDLE",
		Mouse4:         "MOUSE_4",
		Mouse5:         "MOUSE_5",
		MouseWheelUp:   "MOUSE_WHEEL_UP",
		MouseWheelDown: "MOUSE_WHEEL_DOWN",
	}
	for i := 0; i <= 9; i++ {
		names[Key0+KeyCode(i)] = fmt.Sprintf("KEY_%d", i)
	}
	for i := 0; i < 26; i++ {
		names[KeyA+KeyCode(i)] = "KEY_" + string(rune('A'+i))
	}
	for i := 0; i < 12; i++ {
		names[KeyF1+KeyCode(i)] = fmt.Sprintf("KEY_F%d", i+1)
	}
	return names
}

// Valid reports whether k is inside the button code range.
func (k KeyCode) Valid() bool {
	return k >= KeyNone && k <= ButtonCodeLast
}

// String returns the key's enum name, or BUTTON_<n> for unnamed codes.
func (k KeyCode) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("BUTTON_%d", int(k))
}

// ParseKey resolves an enum name such as "KEY_F3".
func ParseKey(name string) (KeyCode, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for code, n := range keyNames {
		if n == name {
			return code, nil
		}
	}
	return KeyNone, fmt.Errorf("unknown key %q", name)
}

// KeyNames returns the named keys keyed by enum name.
func KeyNames() map[string]KeyCode {
	out := make(map[string]KeyCode, len(keyNames))
	for code, name := range keyNames {
		out[name] = code
	}
	return out
}

// sortedKeys returns the codes of a key set in ascending order.
func sortedKeys(set map[KeyCode]struct{}) []KeyCode {
	out := make([]KeyCode, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeKey(v any) (any, bool) {
	if k, ok := v.(KeyCode); ok {
		return k, k.Valid()
	}
	n, ok := normalizeInt(v)
	if !ok {
		return nil, false
	}
	k := KeyCode(n.(int))
	return k, k.Valid()
}
