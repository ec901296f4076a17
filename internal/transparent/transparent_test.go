package transparent_test

import (
	"testing"

	"github.com/rafalfr/tinyproxy-go/internal/transparent"
	"github.com/stretchr/testify/assert"
)

func TestBuild_HostHeaderWithPort(t *testing.T) {
	req := transparent.Build("www.example.com:8080", transparent.OriginalDestination{}, "/path")

	assert.Equal(t, "www.example.com", req.Host)
	assert.Equal(t, 8080, req.Port)
	assert.Equal(t, "/path", req.Path)
	assert.Equal(t, "http://www.example.com:8080/path", req.URL())
}

func TestBuild_HostHeaderWithoutPortDefaultsTo80(t *testing.T) {
	req := transparent.Build("www.example.com", transparent.OriginalDestination{}, "/")

	assert.Equal(t, 80, req.Port)
}

func TestBuild_NoHostHeaderUsesOriginalDestination(t *testing.T) {
	req := transparent.Build("", transparent.OriginalDestination{IP: "203.0.113.9", Port: 443}, "/a")

	assert.Equal(t, "203.0.113.9", req.Host)
	assert.Equal(t, 443, req.Port)
	assert.Equal(t, "http://203.0.113.9:443/a", req.URL())
}

func TestSelfReferenceCheck(t *testing.T) {
	req := transparent.Build("10.0.0.1", transparent.OriginalDestination{}, "/")

	assert.True(t, transparent.SelfReferenceCheck(req, "10.0.0.1"))
	assert.False(t, transparent.SelfReferenceCheck(req, "10.0.0.2"))
	// A differently-written equivalent address does not match: the
	// comparison is deliberately literal, not canonicalized.
	assert.False(t, transparent.SelfReferenceCheck(req, "010.0.0.1"))
}
