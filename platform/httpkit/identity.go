// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// Identity represents the authenticated operator behind an admin request.
type Identity interface {
	// Subject returns the token subject.
	Subject() string
	// HasRole checks if the subject has a specific role.
	HasRole(role string) bool
	// IsAuthenticated returns true if a token was validated.
	IsAuthenticated() bool
}

type identity struct {
	subject       string
	roles         []string
	authenticated bool
}

func (i *identity) Subject() string { return i.subject }

func (i *identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }

func (i *identity) IsAuthenticated() bool { return i.authenticated }

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if no token was validated.
func GetIdentity(c *gin.Context) Identity {
	subject := c.GetString(ContextSubjectKey)
	if subject == "" {
		return &identity{}
	}

	var roles []string
	if raw, ok := c.Get(ContextRolesKey); ok {
		roles, _ = raw.([]string)
	}

	return &identity{subject: subject, roles: roles, authenticated: true}
}
