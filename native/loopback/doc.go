// Package loopback provides an in-process [native.Device] for tests and
// examples.
//
// Submissions are queued rather than executed; the test (or example driver)
// settles them explicitly:
//
//	dev := loopback.New()
//	// ... submit through the engine ...
//	dev.Complete(pkg.TransferStatusSuccess, 64)
//
// Each completion runs the descriptor's callback on a fresh goroutine,
// standing in for the driver's internal completion thread.
package loopback
