package adb

import (
	"sort"
	"strconv"
	"strings"
)

// Android key codes
const (
	KeycodeHome        = 3
	KeycodeBack        = 4
	KeycodeCall        = 5
	KeycodeEndCall     = 6
	Keycode0           = 7
	KeycodeDpadUp      = 19
	KeycodeDpadDown    = 20
	KeycodeDpadLeft    = 21
	KeycodeDpadRight   = 22
	KeycodeDpadCenter  = 23
	KeycodeVolumeUp    = 24
	KeycodeVolumeDown  = 25
	KeycodePower       = 26
	KeycodeCamera      = 27
	KeycodeA           = 29
	KeycodeZ           = 54
	KeycodeTab         = 61
	KeycodeSpace       = 62
	KeycodeEnter       = 66
	KeycodeDel         = 67 // Backspace
	KeycodeMenu        = 82
	KeycodeSearch      = 84
	KeycodePlayPause   = 85
	KeycodeStop        = 86
	KeycodeNext        = 87
	KeycodePrevious    = 88
	KeycodeRewind      = 89
	KeycodeFastForward = 90
	KeycodeMute        = 91
	KeycodeEscape      = 111
	KeycodeForwardDel  = 112 // Delete
	KeycodePlay        = 126
	KeycodePause       = 127
	KeycodeVolumeMute  = 164
	KeycodeInfo        = 165
	KeycodeChannelUp   = 166
	KeycodeChannelDown = 167
	KeycodeGuide       = 172
	KeycodeSettings    = 176
	KeycodeTV          = 170
	KeycodeAppSwitch   = 187
	KeycodeSleep       = 223
	KeycodeWakeup      = 224
)

var keyNames = map[string]int{
	"HOME":               KeycodeHome,
	"BACK":               KeycodeBack,
	"CALL":               KeycodeCall,
	"ENDCALL":            KeycodeEndCall,
	"UP":                 KeycodeDpadUp,
	"DOWN":               KeycodeDpadDown,
	"LEFT":               KeycodeDpadLeft,
	"RIGHT":              KeycodeDpadRight,
	"OK":                 KeycodeDpadCenter,
	"SELECT":             KeycodeDpadCenter,
	"VOLUME_UP":          KeycodeVolumeUp,
	"VOLUME_DOWN":        KeycodeVolumeDown,
	"VOLUME_MUTE":        KeycodeVolumeMute,
	"POWER":              KeycodePower,
	"CAMERA":             KeycodeCamera,
	"TAB":                KeycodeTab,
	"SPACE":              KeycodeSpace,
	"ENTER":              KeycodeEnter,
	"DEL":                KeycodeDel,
	"BACKSPACE":          KeycodeDel,
	"FORWARD_DEL":        KeycodeForwardDel,
	"MENU":               KeycodeMenu,
	"SEARCH":             KeycodeSearch,
	"MEDIA_PLAY_PAUSE":   KeycodePlayPause,
	"MEDIA_STOP":         KeycodeStop,
	"MEDIA_NEXT":         KeycodeNext,
	"MEDIA_PREVIOUS":     KeycodePrevious,
	"MEDIA_REWIND":       KeycodeRewind,
	"MEDIA_FAST_FORWARD": KeycodeFastForward,
	"MEDIA_PLAY":         KeycodePlay,
	"MEDIA_PAUSE":        KeycodePause,
	"MUTE":               KeycodeMute,
	"ESCAPE":             KeycodeEscape,
	"INFO":               KeycodeInfo,
	"CHANNEL_UP":         KeycodeChannelUp,
	"CHANNEL_DOWN":       KeycodeChannelDown,
	"GUIDE":              KeycodeGuide,
	"SETTINGS":           KeycodeSettings,
	"TV":                 KeycodeTV,
	"APP_SWITCH":         KeycodeAppSwitch,
	"SLEEP":              KeycodeSleep,
	"WAKEUP":             KeycodeWakeup,
}

// LookupKey resolves a key name ("HOME", "KEYCODE_HOME", "dpad_up", "0".."9",
// "A".."Z") or a decimal keycode to an Android keycode.
func LookupKey(name string) (int, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "KEYCODE_")
	key = strings.TrimPrefix(key, "DPAD_")
	if key == "CENTER" {
		return KeycodeDpadCenter, true
	}

	if code, ok := keyNames[key]; ok {
		return code, true
	}
	if len(key) == 1 {
		switch c := key[0]; {
		case c >= '0' && c <= '9':
			return Keycode0 + int(c-'0'), true
		case c >= 'A' && c <= 'Z':
			return KeycodeA + int(c-'A'), true
		}
	}
	if n, err := strconv.Atoi(key); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}

// KeyNames lists the named keys LookupKey understands.
func KeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for name := range keyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
