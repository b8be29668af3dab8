package hotkeys

// Linux input event codes (linux/input-event-codes.h) for every key the
// parser accepts. These are physical positions, independent of layout.
var evdevKeyCodes = map[Key]int{
	"ESC": 1,
	"1":   2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"TAB": 15,
	"Q":   16, "W": 17, "E": 18, "R": 19, "T": 20, "Y": 21, "U": 22, "I": 23, "O": 24, "P": 25,
	"ENTER": 28,
	"A":     30, "S": 31, "D": 32, "F": 33, "G": 34, "H": 35, "J": 36, "K": 37, "L": 38,
	"Z": 44, "X": 45, "C": 46, "V": 47, "B": 48, "N": 49, "M": 50,
	"SPACE": 57,
	"F1":    59, "F2": 60, "F3": 61, "F4": 62, "F5": 63,
	"F6": 64, "F7": 65, "F8": 66, "F9": 67, "F10": 68,
	"F11": 87, "F12": 88,
	"UP":     103,
	"LEFT":   105,
	"RIGHT":  106,
	"DOWN":   108,
	"DELETE": 111,
}

// evdevModifierCodes covers the left and right variant of each modifier.
var evdevModifierCodes = map[int]Modifier{
	29:  ModCtrl,  // KEY_LEFTCTRL
	97:  ModCtrl,  // KEY_RIGHTCTRL
	42:  ModShift, // KEY_LEFTSHIFT
	54:  ModShift, // KEY_RIGHTSHIFT
	56:  ModAlt,   // KEY_LEFTALT
	100: ModAlt,   // KEY_RIGHTALT
	125: ModSuper, // KEY_LEFTMETA
	126: ModSuper, // KEY_RIGHTMETA
}

var evdevKeysByCode = func() map[int]Key {
	out := make(map[int]Key, len(evdevKeyCodes))
	for key, code := range evdevKeyCodes {
		out[code] = key
	}
	return out
}()
