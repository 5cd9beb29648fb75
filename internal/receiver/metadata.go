// Package receiver describes the webhook sources hookline understands.
//
// Each receiver is a static Metadata record: how its body is encoded, where its
// event name lives, how requests are authenticated, and which GET/HEAD handshakes
// it performs. The built-in table covers the common vendors; configuration may
// override any field or declare new receivers with the same shape.
package receiver

import (
	"net/http"
	"net/url"
	"strings"
)

// BodyType is the encoding of the request body.
type BodyType string

const (
	BodyJSON BodyType = "json"
	BodyXML  BodyType = "xml"
	BodyForm BodyType = "form"
	BodyNone BodyType = "none"
)

// Source names where a value (event name, shared code) is read from.
type Source string

const (
	SourceHeader   Source = "header"
	SourceQuery    Source = "query"
	SourceJSON     Source = "json"
	SourceXML      Source = "xml"
	SourceForm     Source = "form"
	SourceConstant Source = "constant"
)

// SignatureMode selects the authentication scheme.
type SignatureMode string

const (
	ModeHMAC SignatureMode = "hmac"
	ModeCode SignatureMode = "code"
	ModeNone SignatureMode = "none"
)

// Algorithm is the HMAC hash.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// Encoding is how the signature header value is encoded.
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

// SignatureFormat is the layout of the signature header.
type SignatureFormat string

const (
	// FormatPlain is "<prefix><digest>", e.g. "sha1=ab12...".
	FormatPlain SignatureFormat = "plain"
	// FormatTimestamped is "t=<unix>,v1=<digest>[,v1=...]"; the signed content is "<t>.<body>".
	FormatTimestamped SignatureFormat = "timestamped"
)

// HandshakeMode is what a GET/HEAD request does for a receiver.
type HandshakeMode string

const (
	// HandshakeOK answers 200 with an empty body and no authentication.
	HandshakeOK HandshakeMode = "ok"
	// HandshakeChallenge echoes a query parameter back as text/plain.
	HandshakeChallenge HandshakeMode = "challenge"
)

const (
	// DefaultCodeParam is the query parameter carrying a shared code.
	DefaultCodeParam = "code"
	// DefaultSecretID is the sub-id used when a request has none.
	DefaultSecretID = "default"
)

// EventSpec is the event-name extraction strategy.
type EventSpec struct {
	Source Source
	// Keys are tried in order; the first that yields a value wins.
	Keys         []string
	Constant     string
	AllowMissing bool
	Default      string
}

// SignatureSpec is the authentication scheme for POST requests.
type SignatureSpec struct {
	Mode      SignatureMode
	Algorithm Algorithm
	Header    string
	Prefix    string
	Encoding  Encoding
	Format    SignatureFormat
	// Required rejects requests without the signature header.
	Required bool
	// SignURL appends the absolute request URL to the signed content.
	SignURL bool

	// CodeSource and CodeKey locate the shared code for ModeCode.
	CodeSource Source
	CodeKey    string

	MinSecretLength int
	MaxSecretLength int
}

// Handshake describes the unauthenticated GET/HEAD behaviour.
type Handshake struct {
	Methods []string
	Mode    HandshakeMode
	Param   string
}

// Ack is a fixed success body some vendors require.
type Ack struct {
	ContentType string
	Body        string
}

// Metadata is everything the pipeline needs to know about one receiver.
type Metadata struct {
	Name      string
	Body      BodyType
	Event     EventSpec
	Signature SignatureSpec
	Handshake *Handshake
	Ack       *Ack

	// PingEvent is answered with 200 without invoking handlers.
	PingEvent string
	// Indirect disables signature verification. Used for vendors whose
	// notifications are confirmed out of band.
	Indirect bool
	// MismatchStatus is returned for a signature or code mismatch.
	MismatchStatus int
	MaxBodySize    int64
}

// Verifies reports whether POST requests are authenticated.
func (m Metadata) Verifies() bool {
	return !m.Indirect && m.Signature.Mode != ModeNone && m.Signature.Mode != ""
}

// HandshakeFor returns the handshake for method, if the receiver has one.
func (m Metadata) HandshakeFor(method string) (*Handshake, bool) {
	if m.Handshake == nil {
		return nil, false
	}
	for _, allowed := range m.Handshake.Methods {
		if strings.EqualFold(allowed, method) {
			return m.Handshake, true
		}
	}
	return nil, false
}

// RejectStatus is the status for a signature or code mismatch.
func (m Metadata) RejectStatus() int {
	if m.MismatchStatus != 0 {
		return m.MismatchStatus
	}
	return http.StatusUnauthorized
}

// Request is one inbound webhook call. It is built once per HTTP request and
// not modified afterwards.
type Request struct {
	// ReceiptID is assigned on arrival and links deliveries back to the receipt.
	ReceiptID string
	Receiver  string
	ID        string
	Method    string
	URL       string
	Body      []byte
	Header    http.Header
	Query     url.Values
}

// SecretID returns the sub-id used for secret lookup.
func (r *Request) SecretID() string {
	if r.ID == "" {
		return DefaultSecretID
	}
	return r.ID
}
