package portset_test

import (
	"testing"

	"github.com/rafalfr/tinyproxy-go/internal/portset"
	"github.com/stretchr/testify/assert"
)

func TestPortSet_EmptyAllowsAny(t *testing.T) {
	p := portset.New()
	assert.True(t, p.Check(443))
	assert.True(t, p.Check(22))
}

func TestPortSet_RestrictsOnceNonEmpty(t *testing.T) {
	p := portset.New()
	p.Add(443)
	p.Add(563)

	assert.True(t, p.Check(443))
	assert.True(t, p.Check(563))
	assert.False(t, p.Check(80))
}

func TestPortSet_ZeroSentinelIsAMember(t *testing.T) {
	p := portset.New()
	p.Add(443)
	p.Add(0)

	assert.True(t, p.Check(0))
	assert.False(t, p.Check(21))
	assert.Equal(t, 2, p.Len())
}
