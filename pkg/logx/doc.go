// Package logx wraps zerolog behind a small structured-logging API.
//
// Loggers created from a Service stay live across Apply() calls, so log
// level and sink changes from a config reload take effect without
// re-plumbing loggers through the application.
package logx
