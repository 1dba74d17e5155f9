// Package notify carries transient user-facing notifications out of the sync
// core. Stores and services never throw past their boundary; failures end up
// here and as returned booleans/nils.
package notify

import "studiodesk.app/internal/obs"

// Level classifies a notification.
type Level string

const (
	Info  Level = "info"
	Error Level = "error"
)

// Func delivers one transient notification to whatever surface the caller
// wired in (toast, status line, log). Implementations must not block.
type Func func(level Level, message string)

// Discard drops every notification.
func Discard(Level, string) {}

// Logged returns a Func that writes notifications to the shared JSON logger.
func Logged() Func {
	return func(level Level, message string) {
		obs.LogEvent("notify", map[string]any{"level": string(level), "msg": message})
	}
}
