package resolve_test

import (
	"context"
	"testing"

	"github.com/rafalfr/tinyproxy-go/internal/resolve"
	"github.com/stretchr/testify/assert"
)

func TestResolver_NoServersNoPanic(t *testing.T) {
	r := resolve.New(nil)

	// With no upstream servers configured and an unresolvable name, Resolve
	// must degrade to an empty slice rather than error or panic.
	addrs := r.Resolve(context.Background(), "definitely-invalid.invalid.")
	assert.Empty(t, addrs)
}

func TestResolver_ReverseLookupUnknown(t *testing.T) {
	r := resolve.New(nil)

	host := r.ReverseLookup(context.Background(), "203.0.113.1")
	assert.Equal(t, "", host)
}
