package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "trims whitespace", header: "Bearer   abc123  ", want: "abc123"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer    ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{"receipts:ro", " Events:RO "}},
		{Token: "writer", Scopes: []string{"deliveries:rw"}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeDeliveriesRW))

	p, ok = Authenticate("reader", "admin-key", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeReceiptsRO))
	assert.True(t, HasAnyScope(p, ScopeEventsRO))
	assert.False(t, HasAnyScope(p, ScopeDeliveriesRO))

	p, ok = Authenticate("writer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeDeliveriesRO), "rw implies ro")
	assert.False(t, HasAnyScope(p, ScopeReceiptsRO))

	_, ok = Authenticate("nope", "admin-key", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}

func TestKnownScope(t *testing.T) {
	assert.True(t, KnownScope("deliveries:rw"))
	assert.True(t, KnownScope("*"))
	assert.False(t, KnownScope("jobs:ro"))
}
