// Package grants expands symbolic grant-bundle tags into the concrete
// capability strings a consumer is allowed to exercise. The catalog is
// an injected collaborator of the lifecycle controller; its contract
// (expand, validate, hidden grants) is load-bearing even though the
// bundle contents themselves are configuration.
package grants

import (
	"fmt"
	"sort"
)

// Bundle tags accepted on proposal.
const (
	BundleAuthOnly = "authonly" // identity only, no API capabilities
	BundleNormal   = "normal"   // explicit capability selection
	BundleAll      = "all"      // every known capability
)

// Catalog maps capability names to their existence and groups them
// into bundles. Hidden grants are implicitly carried by every normal
// bundle; they cover plumbing capabilities (basic read access) that
// user interfaces never show.
type Catalog struct {
	known  map[string]bool
	hidden []string
}

// NewCatalog builds a catalog from the full capability list and the
// subset that is hidden. Hidden capabilities not present in known are
// added to it.
func NewCatalog(known []string, hidden []string) *Catalog {
	c := &Catalog{known: make(map[string]bool, len(known)+len(hidden))}
	for _, g := range known {
		c.known[g] = true
	}
	for _, g := range hidden {
		c.known[g] = true
		c.hidden = append(c.hidden, g)
	}
	return c
}

// DefaultCatalog returns the capability set this deployment ships
// with. Deployments with their own capability vocabulary construct a
// Catalog directly.
func DefaultCatalog() *Catalog {
	return NewCatalog([]string{
		"editpage",
		"createeditmovepage",
		"uploadfile",
		"viewdeleted",
		"highvolume",
		"viewmywatchlist",
		"editmywatchlist",
		"sendemail",
	}, []string{
		"basic",
	})
}

// Hidden returns the grants unioned into every normal bundle.
func (c *Catalog) Hidden() []string {
	return append([]string(nil), c.hidden...)
}

// Validate reports whether every capability in the set is known.
func (c *Catalog) Validate(caps []string) bool {
	for _, g := range caps {
		if !c.known[g] {
			return false
		}
	}
	return true
}

// Expand resolves a bundle tag plus an optional explicit selection
// into the concrete capability set stored on the consumer. The result
// is sorted and de-duplicated. Unknown tags and unknown capabilities
// are rejected; the caller treats that as a validation failure, not a
// protocol error.
func (c *Catalog) Expand(tag string, selected []string) ([]string, error) {
	switch tag {
	case BundleAuthOnly:
		return nil, nil
	case BundleAll:
		all := make([]string, 0, len(c.known))
		for g := range c.known {
			all = append(all, g)
		}
		sort.Strings(all)
		return all, nil
	case BundleNormal:
		if !c.Validate(selected) {
			return nil, fmt.Errorf("grants: unknown capability in selection")
		}
		set := make(map[string]bool, len(selected)+len(c.hidden))
		for _, g := range selected {
			set[g] = true
		}
		for _, g := range c.hidden {
			set[g] = true
		}
		out := make([]string, 0, len(set))
		for g := range set {
			out = append(out, g)
		}
		sort.Strings(out)
		return out, nil
	default:
		return nil, fmt.Errorf("grants: unknown bundle tag %q", tag)
	}
}
