package receiver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/hookline/internal/config"
)

// Table is the immutable set of receivers known to a running server.
type Table struct {
	byName map[string]Metadata
}

// NewTable builds a table from entries. Names are case-insensitive.
func NewTable(entries map[string]Metadata) *Table {
	t := &Table{byName: make(map[string]Metadata, len(entries))}
	for name, m := range entries {
		key := strings.ToLower(name)
		m.Name = key
		t.byName[key] = m
	}
	return t
}

// Lookup returns the metadata for a receiver name.
func (t *Table) Lookup(name string) (Metadata, bool) {
	if t == nil {
		return Metadata{}, false
	}
	m, ok := t.byName[strings.ToLower(name)]
	return m, ok
}

// Names returns all receiver names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the built-in table with configuration overrides applied.
func Build(overrides map[string]config.ReceiverConf) (*Table, error) {
	builtin := Builtin()
	entries := Builtin()

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, rawName := range names {
		rc := overrides[rawName]
		name := strings.ToLower(strings.TrimSpace(rawName))
		if name == "" {
			return nil, fmt.Errorf("receivers: empty receiver name")
		}
		if rc.Disabled {
			delete(entries, name)
			continue
		}

		baseName := name
		if rc.Extends != "" {
			baseName = strings.ToLower(rc.Extends)
		}
		base, ok := builtin[baseName]
		if !ok && rc.Extends != "" {
			return nil, fmt.Errorf("receiver %q: extends unknown receiver %q", name, rc.Extends)
		}
		base.Name = name

		m, err := apply(base, rc)
		if err != nil {
			return nil, fmt.Errorf("receiver %q: %w", name, err)
		}
		if err := Validate(m); err != nil {
			return nil, fmt.Errorf("receiver %q: %w", name, err)
		}
		entries[name] = m
	}

	return NewTable(entries), nil
}

func apply(m Metadata, rc config.ReceiverConf) (Metadata, error) {
	if rc.Body != "" {
		m.Body = BodyType(strings.ToLower(rc.Body))
	}
	if e := rc.Event; e != nil {
		if e.Source != "" {
			m.Event.Source = Source(strings.ToLower(e.Source))
		}
		if len(e.Keys) > 0 {
			m.Event.Keys = append([]string(nil), e.Keys...)
		}
		if e.Constant != "" {
			m.Event.Constant = e.Constant
		}
		if e.AllowMissing != nil {
			m.Event.AllowMissing = *e.AllowMissing
		}
		if e.Default != "" {
			m.Event.Default = e.Default
		}
	}
	if s := rc.Signature; s != nil {
		if s.Mode != "" {
			m.Signature.Mode = SignatureMode(strings.ToLower(s.Mode))
		}
		if s.Algorithm != "" {
			m.Signature.Algorithm = Algorithm(strings.ToLower(s.Algorithm))
		}
		if s.Header != "" {
			m.Signature.Header = s.Header
		}
		if s.Prefix != "" {
			m.Signature.Prefix = s.Prefix
		}
		if s.Encoding != "" {
			m.Signature.Encoding = Encoding(strings.ToLower(s.Encoding))
		}
		if s.Format != "" {
			m.Signature.Format = SignatureFormat(strings.ToLower(s.Format))
		}
		if s.Required != nil {
			m.Signature.Required = *s.Required
		}
		if s.SignURL != nil {
			m.Signature.SignURL = *s.SignURL
		}
		if s.CodeSource != "" {
			m.Signature.CodeSource = Source(strings.ToLower(s.CodeSource))
		}
		if s.CodeKey != "" {
			m.Signature.CodeKey = s.CodeKey
		}
		if s.MinSecret != 0 {
			m.Signature.MinSecretLength = s.MinSecret
		}
		if s.MaxSecret != 0 {
			m.Signature.MaxSecretLength = s.MaxSecret
		}
	}
	if h := rc.Handshake; h != nil {
		m.Handshake = &Handshake{
			Methods: append([]string(nil), h.Methods...),
			Mode:    HandshakeMode(strings.ToLower(h.Mode)),
			Param:   h.Param,
		}
	}
	if rc.Ack != nil {
		m.Ack = &Ack{ContentType: rc.Ack.ContentType, Body: rc.Ack.Body}
	}
	if rc.PingEvent != "" {
		m.PingEvent = rc.PingEvent
	}
	if rc.Indirect != nil {
		m.Indirect = *rc.Indirect
	}
	if rc.RejectCode != 0 {
		m.MismatchStatus = rc.RejectCode
	}
	if rc.MaxBodySize != "" {
		size, err := config.ParseSize(rc.MaxBodySize)
		if err != nil {
			return m, fmt.Errorf("invalid max_body_size %q: %w", rc.MaxBodySize, err)
		}
		m.MaxBodySize = size
	}
	return m, nil
}

// Validate checks that a metadata record is internally consistent.
func Validate(m Metadata) error {
	switch m.Body {
	case BodyJSON, BodyXML, BodyForm, BodyNone:
	case "":
		return fmt.Errorf("body is required")
	default:
		return fmt.Errorf("unknown body type %q", m.Body)
	}

	switch m.Event.Source {
	case SourceConstant:
		if m.Event.Constant == "" {
			return fmt.Errorf("event.constant is required for constant source")
		}
	case SourceHeader, SourceQuery, SourceJSON, SourceXML, SourceForm:
		if len(m.Event.Keys) == 0 {
			return fmt.Errorf("event.keys is required for %s source", m.Event.Source)
		}
	case "":
		return fmt.Errorf("event.source is required")
	default:
		return fmt.Errorf("unknown event source %q", m.Event.Source)
	}
	if m.Event.AllowMissing && m.Event.Default == "" {
		return fmt.Errorf("event.default is required when allow_missing is set")
	}

	sig := m.Signature
	switch sig.Mode {
	case ModeHMAC:
		if sig.Header == "" {
			return fmt.Errorf("signature.header is required for hmac")
		}
		if sig.Algorithm != SHA1 && sig.Algorithm != SHA256 {
			return fmt.Errorf("signature.algorithm must be sha1 or sha256 (got %q)", sig.Algorithm)
		}
		if sig.Encoding != Hex && sig.Encoding != Base64 {
			return fmt.Errorf("signature.encoding must be hex or base64 (got %q)", sig.Encoding)
		}
		if sig.Format != "" && sig.Format != FormatPlain && sig.Format != FormatTimestamped {
			return fmt.Errorf("unknown signature.format %q", sig.Format)
		}
	case ModeCode:
		switch sig.CodeSource {
		case SourceQuery, SourceHeader, SourceForm, SourceJSON, SourceXML:
		default:
			return fmt.Errorf("signature.code_source %q is not supported", sig.CodeSource)
		}
		if sig.CodeKey == "" {
			return fmt.Errorf("signature.code_key is required for code")
		}
	case ModeNone:
	case "":
		return fmt.Errorf("signature.mode is required")
	default:
		return fmt.Errorf("unknown signature mode %q", sig.Mode)
	}
	if sig.MaxSecretLength != 0 && sig.MinSecretLength > sig.MaxSecretLength {
		return fmt.Errorf("min_secret_length %d exceeds max_secret_length %d", sig.MinSecretLength, sig.MaxSecretLength)
	}

	if h := m.Handshake; h != nil {
		if len(h.Methods) == 0 {
			return fmt.Errorf("handshake.methods is required")
		}
		switch h.Mode {
		case HandshakeOK:
		case HandshakeChallenge:
			if h.Param == "" {
				return fmt.Errorf("handshake.param is required for challenge mode")
			}
		default:
			return fmt.Errorf("unknown handshake mode %q", h.Mode)
		}
	}
	return nil
}
