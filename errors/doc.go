// Package errors provides standardized error handling for sensorpipe.
//
// # Error classes
//
// Every error falls into one of three classes:
//
//   - Transient: temporary failures (port busy, storage unavailable, full
//     queue). Safe to retry; workers recover locally.
//   - Invalid: bad input or configuration (malformed frame, unknown plugin,
//     missing stage spec). Retrying will not help.
//   - Fatal: unrecoverable conditions that abort the enclosing operation
//     (missing mandatory stage during setup).
//
// # Propagation policy
//
// Fatal errors abort the operation they occur in (Setup or Start) and
// propagate to the caller. Everything else is recovered at the worker
// boundary: logged, counted in the stage's error counter, and visible only
// through the status surface.
//
// # Wrapping
//
// Use the Wrap helpers to attach component/method/action context:
//
//	return errors.WrapInvalid(err, "Registry", "Create", "factory lookup")
//
// which yields "Registry.Create: factory lookup failed: <cause>" and keeps
// the cause reachable via errors.Is / errors.As.
package errors
