// Package dispatch routes verified webhook requests to registered handlers.
//
// A Registry holds the ordered handler registrations for each receiver. It is
// populated at startup and frozen before the server accepts traffic, after
// which it is read-only and safe for concurrent use.
//
// The Dispatcher turns one request into an Outcome:
//   - A receiver with no registrations is NotFound, whatever the verification result
//   - A failed verification is Rejected without invoking any handler
//   - Matching handlers run in registration order; the first one that sets a
//     response ends the chain
//   - No response means 200 with an empty body
//   - A handler error or panic is a HandlerFault (500)
//
// Each request moves through Received, Verifying, Extracting and Dispatching,
// ending in Rejected, Completed or Faulted. The stage is carried on the Outcome
// and in log fields. Nothing is retried or persisted between stages.
package dispatch
