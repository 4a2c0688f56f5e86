package rbac

import (
	"net/http"
)

// Require rejects callers whose role lacks perm.
func (p *Policy) Require(perm string) func(http.Handler) http.Handler {
	return p.guard(func(who Principal, _ *http.Request) bool {
		return p.Allows(who.Role, perm)
	})
}

// RequireStudentAccess guards routes addressed to one student; studentID extracts
// the addressed PIDM from the request.
func (p *Policy) RequireStudentAccess(studentID func(r *http.Request) string) func(http.Handler) http.Handler {
	return p.guard(func(who Principal, r *http.Request) bool {
		return p.CanReadStudent(who, studentID(r))
	})
}

func (p *Policy) guard(allow func(Principal, *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, ok := PrincipalFrom(r.Context())
			if !ok || who.Role == "" || !allow(who, r) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
