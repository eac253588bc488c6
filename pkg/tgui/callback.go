package tgui

import "strings"

// Data formats inline callback data as "module:action:payload".
// Payload is kept as-is; keep it short, Telegram caps callback_data at
// 64 bytes.
func Data(module, action, payload string) string {
	module = strings.TrimSpace(module)
	action = strings.TrimSpace(action)
	if payload == "" {
		return module + ":" + action
	}
	return module + ":" + action + ":" + payload
}
