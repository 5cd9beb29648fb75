package sender

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/verify"
)

// SignatureHeader carries "sha256=<hex HMAC-SHA256(secret, body)>".
const SignatureHeader = "ms-signature"

// Payload is the JSON body of an outbound notification.
type Payload struct {
	ID            string         `json:"Id"`
	Attempt       int            `json:"Attempt"`
	Properties    map[string]any `json:"Properties,omitempty"`
	Notifications []Notification `json:"Notifications"`
}

// Notification is one action in a payload. Action is required; any other
// fields are sent alongside it.
type Notification map[string]any

// Action returns the notification's action name.
func (n Notification) Action() string {
	s, _ := n["Action"].(string)
	return s
}

// NewPayload builds a payload with one notification per action.
func NewPayload(properties map[string]any, actions ...string) Payload {
	p := Payload{Properties: properties}
	for _, a := range actions {
		p.Notifications = append(p.Notifications, Notification{"Action": a})
	}
	return p
}

// Validate checks that every notification names an action.
func (p Payload) Validate() error {
	if len(p.Notifications) == 0 {
		return fmt.Errorf("payload has no notifications")
	}
	for i, n := range p.Notifications {
		if strings.TrimSpace(n.Action()) == "" {
			return fmt.Errorf("notification %d has no Action", i)
		}
	}
	return nil
}

// Encode stamps id and attempt onto the stored payload and returns the body to send.
func Encode(stored json.RawMessage, id string, attempt int) ([]byte, error) {
	var p Payload
	if err := json.Unmarshal(stored, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	p.Attempt = attempt
	return json.Marshal(p)
}

// Signature returns the ms-signature header value for body.
func Signature(secret string, body []byte) string {
	return "sha256=" + verify.Sign(receiver.SHA256, receiver.Hex, secret, body, "")
}
