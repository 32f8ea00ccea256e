// Package logging provides the colored console slog.Handler used by the
// lavapool binaries.
//
// Records render as one line:
//
//	15:04:05 [WARN] [NODE] node closed connection code=4000 reason=bye
//
// The "component" attribute, usually attached once with Logger.With, becomes
// the bracketed tag and picks the line color. Other attributes follow the
// message as key=value pairs.
package logging
