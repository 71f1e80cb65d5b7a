package wltoy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// Keysym is an X keysym value.
type Keysym uint32

// Keysyms the toolkit itself interprets, plus the common editing keys.
const (
	KeyNoSymbol  Keysym = 0
	KeySpace     Keysym = 0x0020
	KeyBackSpace Keysym = 0xff08
	KeyTab       Keysym = 0xff09
	KeyReturn    Keysym = 0xff0d
	KeyEscape    Keysym = 0xff1b
	KeyHome      Keysym = 0xff50
	KeyLeft      Keysym = 0xff51
	KeyUp        Keysym = 0xff52
	KeyRight     Keysym = 0xff53
	KeyDown      Keysym = 0xff54
	KeyPageUp    Keysym = 0xff55
	KeyPageDown  Keysym = 0xff56
	KeyEnd       Keysym = 0xff57
	KeyInsert    Keysym = 0xff63
	KeyF1        Keysym = 0xffbe
	KeyF4        Keysym = 0xffc1
	KeyF5        Keysym = 0xffc2
	KeyF11       Keysym = 0xffc8
	KeyF12       Keysym = 0xffc9
	KeyShiftL    Keysym = 0xffe1
	KeyShiftR    Keysym = 0xffe2
	KeyControlL  Keysym = 0xffe3
	KeyControlR  Keysym = 0xffe4
	KeyCapsLock  Keysym = 0xffe5
	KeyAltL      Keysym = 0xffe9
	KeyAltR      Keysym = 0xffea
	KeySuperL    Keysym = 0xffeb
	KeySuperR    Keysym = 0xffec
	KeyDelete    Keysym = 0xffff
)

// KeyState is the state of a key event.
type KeyState uint32

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
)

// Modifiers is the toolkit's view of the active modifiers.
type Modifiers uint32

const (
	ModControl Modifiers = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

const keymapFormatXKBv1 = 1

// Real modifier bits in the usual xkb layout. modifier_map entries in the keymap
// override these.
var defaultModMasks = map[string]uint32{
	"Shift":   1 << 0,
	"Lock":    1 << 1,
	"Control": 1 << 2,
	"Mod1":    1 << 3,
	"Mod4":    1 << 6,
}

// evdev codes for keys whose keysym does not depend on the layout.
var evdevKeysyms = map[uint32]Keysym{
	1: KeyEscape, 14: KeyBackSpace, 15: KeyTab, 28: KeyReturn, 57: KeySpace,
	29: KeyControlL, 97: KeyControlR, 42: KeyShiftL, 54: KeyShiftR,
	56: KeyAltL, 100: KeyAltR, 125: KeySuperL, 126: KeySuperR, 58: KeyCapsLock,
	59: KeyF1, 60: KeyF1 + 1, 61: KeyF1 + 2, 62: KeyF4, 63: KeyF5, 64: KeyF1 + 5,
	65: KeyF1 + 6, 66: KeyF1 + 7, 67: KeyF1 + 8, 68: KeyF1 + 9, 87: KeyF11, 88: KeyF12,
	102: KeyHome, 103: KeyUp, 104: KeyPageUp, 105: KeyLeft, 106: KeyRight,
	107: KeyEnd, 108: KeyDown, 109: KeyPageDown, 110: KeyInsert, 111: KeyDelete,
}

// US layout rows for printable keys, unshifted then shifted.
var evdevPrintable = map[uint32][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'}, 39: {';', ':'},
	40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'}, 51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
}

// Which real modifier a modifier key drives, by the key name xkb gives it.
var modifierKeys = map[uint32]string{
	42: "Shift", 54: "Shift", 58: "Lock",
	29: "Control", 97: "Control",
	56: "Mod1", 100: "Mod1",
	125: "Mod4", 126: "Mod4",
}

var xkbKeyNames = map[string]uint32{
	"LFSH": 42, "RTSH": 54, "CAPS": 58, "LCTL": 29, "RCTL": 97,
	"LALT": 56, "RALT": 100, "LWIN": 125, "RWIN": 126,
}

var modifierMapRe = regexp.MustCompile(`modifier_map\s+(\w+)\s*\{([^}]*)\}`)

// Keymap tracks modifier state for one keyboard. It understands enough of an
// xkb_v1 keymap to find which real modifiers Control, Alt and Super sit on;
// keysyms come from a US layout table.
type Keymap struct {
	masks map[string]uint32

	controlMask uint32
	altMask     uint32
	shiftMask   uint32
	superMask   uint32
	lockMask    uint32

	depressed, latched, locked, group uint32
}

// parseKeymap reads an xkb_v1 keymap as sent by the compositor.
func parseKeymap(text string) (*Keymap, error) {
	if !strings.Contains(text, "xkb_keymap") {
		return nil, errors.New("not an xkb keymap")
	}
	k := &Keymap{masks: make(map[string]uint32, len(defaultModMasks))}
	for name, mask := range defaultModMasks {
		k.masks[name] = mask
	}

	// modifier_map Mod1 { <LALT>, <META> };
	realBits := map[string]uint32{
		"Shift": 1 << 0, "Lock": 1 << 1, "Control": 1 << 2,
		"Mod1": 1 << 3, "Mod2": 1 << 4, "Mod3": 1 << 5, "Mod4": 1 << 6, "Mod5": 1 << 7,
	}
	for _, m := range modifierMapRe.FindAllStringSubmatch(text, -1) {
		bit, ok := realBits[m[1]]
		if !ok {
			continue
		}
		for _, key := range strings.Split(m[2], ",") {
			code, ok := xkbKeyNames[strings.Trim(strings.TrimSpace(key), "<>")]
			if !ok {
				continue
			}
			k.masks[modifierKeys[code]] = bit
		}
	}

	k.shiftMask = k.masks["Shift"]
	k.lockMask = k.masks["Lock"]
	k.controlMask = k.masks["Control"]
	k.altMask = k.masks["Mod1"]
	k.superMask = k.masks["Mod4"]
	return k, nil
}

// readKeymap maps the compositor's keymap fd and parses it. The fd is closed.
func readKeymap(format uint32, fd int, size uint32) (*Keymap, error) {
	defer closeFD(fd)
	if format != keymapFormatXKBv1 {
		return nil, fmt.Errorf("unsupported keymap format %d", format)
	}
	if size == 0 {
		return nil, errors.New("empty keymap")
	}
	// Since wl_seat version 7 the mapping must be private
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map keymap: %w", err)
	}
	text := strings.TrimRight(string(data), "\x00")
	_ = unix.Munmap(data)
	return parseKeymap(text)
}

// UpdateMask installs the modifier state sent by the compositor.
func (k *Keymap) UpdateMask(depressed, latched, locked, group uint32) {
	k.depressed, k.latched, k.locked, k.group = depressed, latched, locked, group
}

// UpdateKey tracks a modifier key locally so state stays right between the key
// event and the compositor's modifiers event.
func (k *Keymap) UpdateKey(key uint32, pressed bool) {
	name, ok := modifierKeys[key]
	if !ok {
		return
	}
	mask := k.masks[name]
	if name == "Lock" {
		if pressed {
			k.locked ^= mask
		}
		return
	}
	if pressed {
		k.depressed |= mask
	} else {
		k.depressed &^= mask
	}
}

// Modifiers returns the depressed and latched modifiers.
func (k *Keymap) Modifiers() Modifiers {
	mask := k.depressed | k.latched
	var mods Modifiers
	if mask&k.controlMask != 0 {
		mods |= ModControl
	}
	if mask&k.altMask != 0 {
		mods |= ModAlt
	}
	if mask&k.shiftMask != 0 {
		mods |= ModShift
	}
	if mask&k.superMask != 0 {
		mods |= ModSuper
	}
	return mods
}

// Keysym returns the keysym for an evdev key code in the current state.
func (k *Keymap) Keysym(key uint32) Keysym {
	if sym, ok := evdevKeysyms[key]; ok {
		return sym
	}
	p, ok := evdevPrintable[key]
	if !ok {
		return KeyNoSymbol
	}
	shift := (k.depressed|k.latched)&k.shiftMask != 0
	if p[0] >= 'a' && p[0] <= 'z' && k.locked&k.lockMask != 0 {
		shift = !shift
	}
	if shift {
		return Keysym(p[1])
	}
	return Keysym(p[0])
}

// KeyRepeats reports whether holding the key should repeat. Modifiers do not.
func (k *Keymap) KeyRepeats(key uint32) bool {
	_, isMod := modifierKeys[key]
	return !isMod
}
