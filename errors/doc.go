// Package errors provides standardized error handling for the gateway.
//
// # Error Classification
//
// Errors fall into three classes:
//
//   - Transient: broker timeouts, lost connections, full queues (retry)
//   - Invalid: malformed updates, out-of-order timestamps (drop or report)
//   - Fatal: bad configuration, a completed transaction reused (abort)
//
// Classification works through errors.As on *ClassifiedError first, then
// through errors.Is against the sentinels declared here, then by message.
//
// # Error Wrapping Pattern
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := store.Put(key, value); err != nil {
//	    return errors.WrapTransient(err, "HistoryStore", "Deliver", "write value")
//	}
//
// Wrapped errors keep the chain intact, so callers can still match the
// sentinel of the originating package:
//
//	if stderrors.Is(err, notification.ErrOutOfOrderUpdate) {
//	    // stale update from the southbound side
//	}
package errors
