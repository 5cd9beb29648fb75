// Package verify authenticates inbound webhook requests.
//
// Two schemes are supported: an HMAC digest carried in a request header, and a
// bare shared code compared against the configured secret. Both compare in
// constant time. Verification is deterministic, so callers never retry it.
package verify

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/hookline/internal/receiver"
)

// Result is the outcome of verifying one request.
type Result int

const (
	Verified Result = iota
	MissingHeader
	BadEncoding
	SecretNotConfigured
	SignatureMismatch
)

func (r Result) String() string {
	switch r {
	case Verified:
		return "verified"
	case MissingHeader:
		return "missing_header"
	case BadEncoding:
		return "bad_encoding"
	case SecretNotConfigured:
		return "secret_not_configured"
	case SignatureMismatch:
		return "signature_mismatch"
	default:
		return "unknown"
	}
}

// DefaultTolerance bounds the age of a timestamped signature.
const DefaultTolerance = 5 * time.Minute

// ConfigurationError reports a configured secret that violates the receiver's
// length bounds. It is an operator problem, not a client one.
type ConfigurationError struct {
	Length int
	Min    int
	Max    int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configured secret length %d is outside [%d, %d]", e.Length, e.Min, e.Max)
}

// CheckSecretLength validates secret against [min, max]. Zero bounds are not checked.
func CheckSecretLength(secret string, min, max int) error {
	n := len(secret)
	if (min > 0 && n < min) || (max > 0 && n > max) {
		return &ConfigurationError{Length: n, Min: min, Max: max}
	}
	return nil
}

// Input is what HMAC needs about one request.
type Input struct {
	Body []byte
	// Header is the raw signature header value; empty when absent.
	Header string
	Secret string
	Spec   receiver.SignatureSpec
	// URL is the absolute request URL, signed after the body when Spec.SignURL is set.
	URL string
	// Now enables the timestamp tolerance check for timestamped signatures.
	Now       time.Time
	Tolerance time.Duration
}

// HMAC verifies a header-carried HMAC digest of the request body.
func HMAC(in Input) Result {
	if in.Secret == "" {
		return SecretNotConfigured
	}
	value := strings.TrimSpace(in.Header)
	if value == "" {
		if in.Spec.Required {
			return MissingHeader
		}
		return Verified
	}

	newHash := hashFor(in.Spec.Algorithm)
	if newHash == nil {
		return BadEncoding
	}

	if in.Spec.Format == receiver.FormatTimestamped {
		return verifyTimestamped(in, value, newHash)
	}

	if p := in.Spec.Prefix; p != "" {
		if len(value) < len(p) || !strings.EqualFold(value[:len(p)], p) {
			return BadEncoding
		}
		value = value[len(p):]
	}
	presented, err := decode(in.Spec.Encoding, value)
	if err != nil {
		return BadEncoding
	}

	mac := hmac.New(newHash, []byte(in.Secret))
	mac.Write(in.Body)
	if in.Spec.SignURL {
		mac.Write([]byte(in.URL))
	}
	if !hmac.Equal(mac.Sum(nil), presented) {
		return SignatureMismatch
	}
	return Verified
}

// verifyTimestamped handles "t=<unix>,v1=<digest>[,v1=<digest>...]"; the signed
// content is "<t>.<body>". Any v1 entry may match.
func verifyTimestamped(in Input, value string, newHash func() hash.Hash) Result {
	var ts string
	var candidates [][]byte
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return BadEncoding
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig, err := decode(in.Spec.Encoding, v)
			if err != nil {
				return BadEncoding
			}
			candidates = append(candidates, sig)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return BadEncoding
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return BadEncoding
	}

	mac := hmac.New(newHash, []byte(in.Secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(in.Body)
	expected := mac.Sum(nil)

	matched := 0
	for _, c := range candidates {
		matched |= subtle.ConstantTimeCompare(expected, c)
	}
	if matched != 1 {
		return SignatureMismatch
	}

	if !in.Now.IsZero() {
		tolerance := in.Tolerance
		if tolerance <= 0 {
			tolerance = DefaultTolerance
		}
		age := in.Now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return SignatureMismatch
		}
	}
	return Verified
}

// Code compares a presented shared code with the configured secret. A secret
// outside [min, max] is reported as a *ConfigurationError.
func Code(presented, secret string, min, max int) (Result, error) {
	if secret == "" {
		return SecretNotConfigured, nil
	}
	if err := CheckSecretLength(secret, min, max); err != nil {
		return SecretNotConfigured, err
	}
	if presented == "" {
		return MissingHeader, nil
	}
	// Hash both sides so the comparison does not depend on length either.
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare(a[:], b[:]) != 1 {
		return SignatureMismatch, nil
	}
	return Verified, nil
}

// Sign returns the encoded HMAC of body (plus url when signURL) under secret.
// It is the inverse of HMAC for plain-format signatures, without the prefix.
func Sign(alg receiver.Algorithm, enc receiver.Encoding, secret string, body []byte, url string) string {
	newHash := hashFor(alg)
	if newHash == nil {
		return ""
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(url))
	sum := mac.Sum(nil)
	if enc == receiver.Base64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

func hashFor(alg receiver.Algorithm) func() hash.Hash {
	switch alg {
	case receiver.SHA1:
		return sha1.New
	case receiver.SHA256:
		return sha256.New
	default:
		return nil
	}
}

func decode(enc receiver.Encoding, s string) ([]byte, error) {
	switch enc {
	case receiver.Base64:
		return base64.StdEncoding.DecodeString(s)
	case receiver.Hex, "":
		return hex.DecodeString(s)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}
