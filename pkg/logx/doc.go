// Package logx wraps zerolog behind a small Logger/Service pair.
//
// The Service owns the sinks (console, file, Telegram ops channel) and can be
// re-applied at runtime during config hot-reload; Loggers handed out earlier
// keep working against the swapped root.
package logx
