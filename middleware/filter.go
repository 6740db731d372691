package middleware

import (
	"context"

	"github.com/n-car/rpckit"
)

// MethodNotAllowed is the message of calls rejected by a MethodFilter.
const MethodNotAllowed = "Method not allowed"

// MethodFilter rejects calls by method name. Deny patterns are checked first. An
// empty allow list allows every method that is not denied.
type MethodFilter struct {
	allow []string
	deny  []string
}

// NewMethodFilter builds a filter from allow and deny patterns; see Match.
func NewMethodFilter(allow, deny []string) *MethodFilter {
	return &MethodFilter{
		allow: append([]string(nil), allow...),
		deny:  append([]string(nil), deny...),
	}
}

// Allowed reports whether method passes the filter.
func (f *MethodFilter) Allowed(method string) bool {
	if MatchAny(f.deny, method) {
		return false
	}
	return len(f.allow) == 0 || MatchAny(f.allow, method)
}

func (f *MethodFilter) Before(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) error {
	if f.Allowed(req.Method) {
		return nil
	}
	return rpckit.NewServerError(MethodNotAllowed).WithData(map[string]string{"method": req.Method})
}
