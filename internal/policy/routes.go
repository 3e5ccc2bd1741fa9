// Package policy scopes pipeline stages to route groups. Which prefixes
// are secured or metered is a deployment decision made once at startup,
// never per request.
package policy

import "strings"

// Routes partitions the URL space: paths under SecuredPrefix require a
// verified session token, paths under MeteredPrefix require a verified
// API key and are charged against plan quotas. Everything else passes
// through both stages untouched.
type Routes struct {
	SecuredPrefix string
	MeteredPrefix string
}

func DefaultRoutes() Routes {
	return Routes{
		SecuredPrefix: "/api/dashboard",
		MeteredPrefix: "/api/v1",
	}
}

func (r Routes) Secured(path string) bool {
	return r.SecuredPrefix != "" && strings.HasPrefix(path, r.SecuredPrefix)
}

func (r Routes) Metered(path string) bool {
	return r.MeteredPrefix != "" && strings.HasPrefix(path, r.MeteredPrefix)
}
