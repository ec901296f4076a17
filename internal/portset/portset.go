// Package portset implements the CONNECT-port allow-list: an unordered set
// of ports that clients may tunnel to via the CONNECT method. It is built
// on the same Set type the dnsproxy fork uses for its domain membership
// checks, repurposed here for port numbers, since port checking is
// naturally an unordered-membership problem rather than a first-match
// rule list.
package portset

import (
	"github.com/golang-collections/collections/set"
)

// PortSet is a set of allowed CONNECT ports. An empty set means "allow any
// port". The zero value is not usable; use New.
type PortSet struct {
	ports *set.Set
}

// New creates an empty PortSet.
func New() *PortSet {
	return &PortSet{ports: set.New()}
}

// Add inserts port into the set. Adding 0 is permitted and meaningful: it is
// the sentinel tinyproxy's directive grammar uses to express "no further
// ports are allowed" while still leaving the set non-empty.
func (p *PortSet) Add(port int) {
	p.ports.Insert(port)
}

// Check reports whether port may be used as a CONNECT target. An empty set
// allows every port; a non-empty set allows only ports it contains.
func (p *PortSet) Check(port int) bool {
	if p.ports.Len() == 0 {
		return true
	}

	return p.ports.Has(port)
}

// Len reports the number of distinct ports currently in the set, used by
// the admin surface's coarse configuration fingerprint.
func (p *PortSet) Len() int {
	return p.ports.Len()
}
