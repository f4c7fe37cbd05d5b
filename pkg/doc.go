// Package pkg provides shared utilities for the usb-asio transfer engine.
//
// This package contains common functionality used across the engine and
// its native backends, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for transfer failures
//   - The native status-code space and its mapping to typed errors
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with transfer-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentTransfer, "submitted", "endpoint", 0x81)
//
// # Errors
//
// Transfer failures are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
//
// Native backends report completion through [TransferStatus]; callers only
// ever observe the error values produced by [TransferStatus.Err].
package pkg
