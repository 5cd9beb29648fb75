// Package event extracts event names from inbound webhook requests.
package event

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"

	"github.com/mattjoyce/hookline/internal/receiver"
)

var (
	// ErrMissingEvent is returned when no event name is present and the
	// receiver does not allow a default.
	ErrMissingEvent = errors.New("no event name in request")
	// ErrMalformedBody is returned when the body cannot be parsed as the
	// receiver's declared body type.
	ErrMalformedBody = errors.New("malformed request body")
)

// Extract returns the event names carried by req. Names are de-duplicated
// and keep their first-seen order.
func Extract(req *receiver.Request, spec receiver.EventSpec) ([]string, error) {
	var names []string
	if spec.Source == receiver.SourceConstant {
		names = []string{spec.Constant}
	} else {
		for _, key := range spec.Keys {
			values, err := Values(req, spec.Source, key)
			if err != nil {
				return nil, err
			}
			if spec.Source == receiver.SourceHeader || spec.Source == receiver.SourceQuery {
				values = splitList(values)
			}
			if len(values) > 0 {
				names = values
				break
			}
		}
	}

	names = dedupe(names)
	if len(names) == 0 {
		if spec.AllowMissing && spec.Default != "" {
			return []string{spec.Default}, nil
		}
		return nil, ErrMissingEvent
	}
	return names, nil
}

// Values reads every non-empty value for key from source. It is also used to
// locate shared codes.
func Values(req *receiver.Request, source receiver.Source, key string) ([]string, error) {
	switch source {
	case receiver.SourceHeader:
		return nonEmpty(req.Header.Values(key)), nil
	case receiver.SourceQuery:
		return nonEmpty(req.Query[key]), nil
	case receiver.SourceForm:
		return formValues(req.Body, key)
	case receiver.SourceJSON:
		return jsonValues(req.Body, key)
	case receiver.SourceXML:
		return xmlValues(req.Body, key)
	default:
		return nil, fmt.Errorf("unsupported source %q", source)
	}
}

func formValues(body []byte, key string) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nonEmpty(form[key]), nil
}

func jsonValues(body []byte, path string) ([]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedBody
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil, nil
	}
	if result.IsArray() {
		var out []string
		for _, item := range result.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	if s := strings.TrimSpace(result.String()); s != "" {
		return []string{s}, nil
	}
	return nil, nil
}

func xmlValues(body []byte, expr string) ([]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	var out []string
	for _, n := range nodes {
		if s := strings.TrimSpace(n.InnerText()); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// splitList splits comma-separated event names from headers or query strings.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
