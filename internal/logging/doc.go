// Package logging configures log/slog for kbcontext.
//
// Commands log human-readable text to stderr by default. With --debug, JSON
// records also go to a size-rotated file under ~/.kbcontext/logs/. The MCP
// server mode logs to the file only, since stdout carries the protocol stream.
package logging
