package receiver

import "net/http"

const (
	codeMinSecret = 32
	codeMaxSecret = 128
)

// codeReceiver is the shape shared by receivers authenticated with ?code=.
func codeReceiver(name string, body BodyType, event EventSpec) Metadata {
	return Metadata{
		Name:  name,
		Body:  body,
		Event: event,
		Signature: SignatureSpec{
			Mode:            ModeCode,
			CodeSource:      SourceQuery,
			CodeKey:         DefaultCodeParam,
			Required:        true,
			MinSecretLength: codeMinSecret,
			MaxSecretLength: codeMaxSecret,
		},
		MismatchStatus: http.StatusBadRequest,
	}
}

// Builtin returns the built-in receiver table entries, keyed by name.
// A new map is returned on every call.
func Builtin() map[string]Metadata {
	all := []Metadata{
		{
			Name:  "github",
			Body:  BodyJSON,
			Event: EventSpec{Source: SourceHeader, Keys: []string{"X-Github-Event"}},
			Signature: SignatureSpec{
				Mode:            ModeHMAC,
				Algorithm:       SHA1,
				Header:          "X-Hub-Signature",
				Prefix:          "sha1=",
				Encoding:        Hex,
				Format:          FormatPlain,
				Required:        true,
				MinSecretLength: 16,
				MaxSecretLength: 128,
			},
			PingEvent:      "ping",
			MismatchStatus: http.StatusBadRequest,
		},
		codeReceiver("bitbucket", BodyJSON, EventSpec{Source: SourceHeader, Keys: []string{"X-Event-Key"}}),
		{
			Name: "dropbox",
			Body: BodyJSON,
			Event: EventSpec{
				Source:       SourceConstant,
				Constant:     "change",
				AllowMissing: true,
				Default:      "change",
			},
			Signature: SignatureSpec{
				Mode:            ModeHMAC,
				Algorithm:       SHA256,
				Header:          "X-Dropbox-Signature",
				Encoding:        Hex,
				Format:          FormatPlain,
				Required:        true,
				MinSecretLength: 15,
				MaxSecretLength: 128,
			},
			Handshake:      &Handshake{Methods: []string{http.MethodGet}, Mode: HandshakeChallenge, Param: "challenge"},
			MismatchStatus: http.StatusBadRequest,
		},
		{
			Name: "trello",
			Body: BodyJSON,
			Event: EventSpec{
				Source:       SourceConstant,
				Constant:     "change",
				AllowMissing: true,
				Default:      "change",
			},
			Signature: SignatureSpec{
				Mode:            ModeHMAC,
				Algorithm:       SHA1,
				Header:          "X-Trello-Webhook",
				Encoding:        Base64,
				Format:          FormatPlain,
				Required:        true,
				SignURL:         true,
				MinSecretLength: 32,
				MaxSecretLength: 128,
			},
			Handshake:      &Handshake{Methods: []string{http.MethodHead, http.MethodGet}, Mode: HandshakeOK},
			MismatchStatus: http.StatusBadRequest,
		},
		{
			Name: "slack",
			Body: BodyForm,
			Event: EventSpec{
				Source:       SourceForm,
				Keys:         []string{"trigger_word", "command"},
				AllowMissing: true,
				Default:      "message",
			},
			Signature: SignatureSpec{
				Mode:            ModeCode,
				CodeSource:      SourceForm,
				CodeKey:         "token",
				Required:        true,
				MinSecretLength: 16,
				MaxSecretLength: 128,
			},
			MismatchStatus: http.StatusBadRequest,
		},
		{
			Name:  "stripe",
			Body:  BodyJSON,
			Event: EventSpec{Source: SourceJSON, Keys: []string{"type"}},
			Signature: SignatureSpec{
				Mode:            ModeHMAC,
				Algorithm:       SHA256,
				Header:          "Stripe-Signature",
				Encoding:        Hex,
				Format:          FormatTimestamped,
				Required:        true,
				MinSecretLength: 16,
				MaxSecretLength: 128,
			},
			MismatchStatus: http.StatusBadRequest,
		},
		{
			Name:  "pusher",
			Body:  BodyJSON,
			Event: EventSpec{Source: SourceJSON, Keys: []string{"events.#.name"}},
			Signature: SignatureSpec{
				Mode:            ModeHMAC,
				Algorithm:       SHA256,
				Header:          "X-Pusher-Signature",
				Encoding:        Hex,
				Format:          FormatPlain,
				Required:        true,
				MinSecretLength: 8,
				MaxSecretLength: 128,
			},
			MismatchStatus: http.StatusBadRequest,
		},
		{
			Name:  "salesforce",
			Body:  BodyXML,
			Event: EventSpec{Source: SourceXML, Keys: []string{"//*[local-name()='ActionId']"}},
			Signature: SignatureSpec{
				Mode:            ModeCode,
				CodeSource:      SourceXML,
				CodeKey:         "//*[local-name()='OrganizationId']",
				Required:        true,
				MinSecretLength: 15,
				MaxSecretLength: 18,
			},
			Ack: &Ack{
				ContentType: "text/xml; charset=utf-8",
				Body: `<?xml version="1.0" encoding="UTF-8"?>` +
					`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">` +
					`<soapenv:Body><notificationsResponse xmlns="http://soap.sforce.com/2005/09/outbound">` +
					`<Ack>true</Ack></notificationsResponse></soapenv:Body></soapenv:Envelope>`,
			},
			MismatchStatus: http.StatusBadRequest,
		},
		withHandshake(
			codeReceiver("mailchimp", BodyForm, EventSpec{Source: SourceForm, Keys: []string{"type"}}),
			&Handshake{Methods: []string{http.MethodGet}, Mode: HandshakeOK},
		),
		codeReceiver("kudu", BodyJSON, EventSpec{Source: SourceJSON, Keys: []string{"status"}}),
		codeReceiver("azurealert", BodyJSON, EventSpec{Source: SourceJSON, Keys: []string{"status"}}),
		codeReceiver("wordpress", BodyForm, EventSpec{Source: SourceForm, Keys: []string{"hook"}}),
		codeReceiver("generic", BodyJSON, EventSpec{
			Source:       SourceQuery,
			Keys:         []string{"action"},
			AllowMissing: true,
			Default:      "change",
		}),
	}

	out := make(map[string]Metadata, len(all))
	for _, m := range all {
		out[m.Name] = m
	}
	return out
}

func withHandshake(m Metadata, h *Handshake) Metadata {
	m.Handshake = h
	return m
}
