package acl_test

import (
	"context"
	"testing"

	"github.com/rafalfr/tinyproxy-go/internal/acl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	answers map[string][]string
}

func (s *stubResolver) Resolve(_ context.Context, name string) []string {
	return s.answers[name]
}

func TestACL_EmptyListAllowsEveryone(t *testing.T) {
	a := acl.New(nil)

	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "10.0.0.1", "x"))
}

func TestACL_NumericFirstMatch(t *testing.T) {
	a := acl.New(nil)
	require.NoError(t, a.Insert("127.0.0.1", acl.Allow))
	require.NoError(t, a.Insert("0.0.0.0/0", acl.Deny))

	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "127.0.0.1", "localhost"))
	assert.Equal(t, acl.Deny, a.Evaluate(context.Background(), "10.0.0.1", "x"))
}

func TestACL_StringSuffixStrictness(t *testing.T) {
	a := acl.New(nil)
	require.NoError(t, a.Insert(".evil.net", acl.Deny))
	require.NoError(t, a.Insert("0.0.0.0/0", acl.Allow))

	assert.Equal(t, acl.Deny, a.Evaluate(context.Background(), "1.2.3.4", "a.evil.net"))
	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "1.2.3.4", "good.net"))
	// Leading-dot pattern requires a strict suffix; the bare domain itself
	// does not match.
	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "1.2.3.4", "evil.net"))
}

func TestACL_StringResolvesHostname(t *testing.T) {
	resolver := &stubResolver{answers: map[string][]string{
		"trusted.example": {"9.9.9.9"},
	}}

	a := acl.New(resolver)
	require.NoError(t, a.Insert("trusted.example", acl.Allow))

	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "9.9.9.9", "unrelated-hostname"))
}

func TestACL_OrderSensitivity(t *testing.T) {
	a := acl.New(nil)
	require.NoError(t, a.Insert("192.168.1.0/24", acl.Allow))
	require.NoError(t, a.Insert("192.168.1.5", acl.Deny))

	// The allow rule for the /24 comes first, so it wins even though a more
	// specific deny rule for the same host exists later in the list.
	assert.Equal(t, acl.Allow, a.Evaluate(context.Background(), "192.168.1.5", "x"))
}

func TestACL_InsertRejectsMalformedRule(t *testing.T) {
	a := acl.New(nil)
	err := a.Insert("300.1.1.1/40", acl.Allow)
	assert.Error(t, err)
	assert.Equal(t, 0, a.Len())
}
