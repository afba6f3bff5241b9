// Package logx is a small structured-logging facade over zerolog.
//
// Loggers are values; the zero Logger discards everything, so components can
// accept a logx.Logger without nil checks. A Service owns the sinks and can be
// re-applied at runtime when the config file changes.
package logx
