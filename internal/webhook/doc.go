// Package webhook serves the inbound webhook endpoint.
//
// Every receiver is reachable at
//
//	GET|HEAD|POST /api/webhooks/incoming/{receiver}
//	GET|HEAD|POST /api/webhooks/incoming/{receiver}/{id}
//
// # Request Flow
//
//  1. Receiver looked up in the receiver table (404 if unknown or has no routes)
//  2. GET/HEAD answered by the receiver's handshake, if it has one (405 otherwise)
//  3. Per-receiver rate limit applied (429)
//  4. Body buffered up to the receiver's limit (413)
//  5. Secret resolved for (receiver, id) with fallback to "default"
//  6. Signature or shared code verified in constant time
//  7. Event names extracted from header, query, form, JSON or XML
//  8. Matching handlers invoked in registration order
//  9. Receipt recorded and an event published to the hub
//
// # Error Responses
//
// Errors are JSON bodies of the form {"error": "..."}. They never carry
// secret values or signature details.
//
//   - 400 Bad Request: missing or malformed signature, malformed body, no event
//   - 401 Unauthorized: signature or code mismatch (some receivers use 400)
//   - 404 Not Found: unknown receiver, or the receiver's secret is misconfigured
//   - 405 Method Not Allowed: GET/HEAD without a handshake, or other methods
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 429 Too Many Requests: receiver rate limit exceeded
//   - 500 Internal Server Error: a handler failed
package webhook
