package event

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookline/internal/receiver"
)

const salesforceBody = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
 <soapenv:Body>
  <notifications xmlns="http://soap.sforce.com/2005/09/outbound">
   <OrganizationId>00Dxx0000001gPL</OrganizationId>
   <ActionId>04kxx0000000007</ActionId>
   <Notification><Id>04l1</Id></Notification>
  </notifications>
 </soapenv:Body>
</soapenv:Envelope>`

func TestExtract(t *testing.T) {
	builtin := receiver.Builtin()

	tests := []struct {
		name     string
		receiver string
		req      receiver.Request
		want     []string
		wantErr  error
	}{
		{
			name:     "github header",
			receiver: "github",
			req:      receiver.Request{Header: http.Header{"X-Github-Event": {"push"}}, Body: []byte(`{}`)},
			want:     []string{"push"},
		},
		{
			name:     "github missing header",
			receiver: "github",
			req:      receiver.Request{Header: http.Header{}, Body: []byte(`{}`)},
			wantErr:  ErrMissingEvent,
		},
		{
			name:     "dropbox constant with empty body",
			receiver: "dropbox",
			req:      receiver.Request{Header: http.Header{}},
			want:     []string{"change"},
		},
		{
			name:     "stripe json type",
			receiver: "stripe",
			req:      receiver.Request{Body: []byte(`{"id":"evt_1","type":"invoice.paid"}`)},
			want:     []string{"invoice.paid"},
		},
		{
			name:     "pusher batch",
			receiver: "pusher",
			req: receiver.Request{Body: []byte(`{"time_ms":1,"events":[
				{"name":"channel_occupied","channel":"a"},
				{"name":"channel_vacated","channel":"b"},
				{"name":"channel_occupied","channel":"c"}]}`)},
			want: []string{"channel_occupied", "channel_vacated"},
		},
		{
			name:     "slack falls back to second key",
			receiver: "slack",
			req:      receiver.Request{Body: []byte("token=abc&command=%2Fdeploy")},
			want:     []string{"/deploy"},
		},
		{
			name:     "slack default",
			receiver: "slack",
			req:      receiver.Request{Body: []byte("token=abc&text=hello")},
			want:     []string{"message"},
		},
		{
			name:     "salesforce xpath",
			receiver: "salesforce",
			req:      receiver.Request{Body: []byte(salesforceBody)},
			want:     []string{"04kxx0000000007"},
		},
		{
			name:     "generic query list",
			receiver: "generic",
			req:      receiver.Request{Query: url.Values{"action": {"created, updated"}}},
			want:     []string{"created", "updated"},
		},
		{
			name:     "generic default",
			receiver: "generic",
			req:      receiver.Request{Query: url.Values{}},
			want:     []string{"change"},
		},
		{
			name:     "malformed json",
			receiver: "kudu",
			req:      receiver.Request{Body: []byte(`{"status":`)},
			wantErr:  ErrMalformedBody,
		},
		{
			name:     "malformed xml",
			receiver: "salesforce",
			req:      receiver.Request{Body: []byte(`<a x=1></a>`)},
			wantErr:  ErrMalformedBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := builtin[tt.receiver]
			got, err := Extract(&tt.req, m.Event)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractAllowMissingUsesDefault(t *testing.T) {
	for _, name := range []string{"dropbox", "trello"} {
		m := receiver.Builtin()[name]
		spec := m.Event
		spec.Source = receiver.SourceHeader
		spec.Keys = []string{"X-Nothing"}
		got, err := Extract(&receiver.Request{Header: http.Header{}}, spec)
		require.NoError(t, err)
		assert.Equal(t, []string{"change"}, got, name)
	}
}

func TestValuesLocatesCodes(t *testing.T) {
	req := &receiver.Request{
		Body:  []byte(salesforceBody),
		Query: url.Values{"code": {"abc"}},
	}

	got, err := Values(req, receiver.SourceXML, "//*[local-name()='OrganizationId']")
	require.NoError(t, err)
	assert.Equal(t, []string{"00Dxx0000001gPL"}, got)

	got, err = Values(req, receiver.SourceQuery, "code")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, got)

	_, err = Values(req, receiver.SourceConstant, "x")
	assert.Error(t, err)
}
