package rbac

import (
	"context"
	"strings"
)

const (
	RoleRegistrar = "registrar"
	RoleStudent   = "student"
	RoleAdmin     = "admin"
)

const (
	PermViewOwn    = "gpam:view-own"
	PermViewAll    = "gpam:view-all"
	PermMedianView = "medians:view"
	PermRunView    = "runs:view"
)

// DefaultGrants is the report API policy. Students only ever see their own aggregates.
var DefaultGrants = map[string][]string{
	RoleStudent:   {PermViewOwn},
	RoleRegistrar: {"gpam:*", PermMedianView, PermRunView},
	RoleAdmin:     {"*"},
}

// Principal is the caller of the report API, as read from its token.
// Subject is a student PIDM for students and the user name for registrars.
type Principal struct {
	Subject string
	Role    string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Policy maps roles to granted permissions. A grant ending in "*" matches every
// permission with that prefix.
type Policy struct {
	grants map[string][]string
}

// NewPolicy uses DefaultGrants when grants is nil.
func NewPolicy(grants map[string][]string) *Policy {
	if grants == nil {
		grants = DefaultGrants
	}
	return &Policy{grants: grants}
}

// KnownRole reports whether tokens for role can be issued.
func (p *Policy) KnownRole(role string) bool {
	_, ok := p.grants[role]
	return ok
}

func (p *Policy) Allows(role, perm string) bool {
	for _, g := range p.grants[role] {
		if g == perm || g == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, "*"); ok && strings.HasPrefix(perm, prefix) {
			return true
		}
	}
	return false
}

// CanReadStudent decides access to one student's aggregates: any student with
// PermViewAll, or the student's own record with PermViewOwn.
func (p *Policy) CanReadStudent(who Principal, studentID string) bool {
	if p.Allows(who.Role, PermViewAll) {
		return true
	}
	return studentID != "" && who.Subject == studentID && p.Allows(who.Role, PermViewOwn)
}
