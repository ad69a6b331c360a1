// Package pkg holds the logging and error vocabulary shared by the device
// stack, the hub class and the softhub command.
//
// # Logging
//
// Logging wraps [log/slog] and tags every record with a component:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentHub, "port condition set", "port", 2, "feature", "PORT_RESET")
//
// [ParseLevel] accepts "trace" in addition to the slog level names.
//
// # Errors
//
// Errors are sentinel values matched with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrOutOfRange) {
//	    // stall the request
//	}
package pkg
