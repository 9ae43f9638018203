package hub

import (
	"strings"

	"github.com/redisplay/server/internal/domain"
)

// storeScheme marks resource references that live behind the asset proxy.
// Views store images as "store://<bucket>/<key>"; clients need the public
// serving URL instead.
const storeScheme = "store://"

// Rewriter translates internal resource references inside view data to the
// serving endpoint's canonical form. The transform is pure: it touches only
// the event copy in flight, never stored state.
type Rewriter struct {
	baseURL string
}

// NewRewriter creates a rewriter serving assets under baseURL, e.g.
// "https://displays.example.com". An empty baseURL yields a rewriter that
// leaves everything untouched.
func NewRewriter(baseURL string) *Rewriter {
	return &Rewriter{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// RewriteView rewrites every proxyable URL in the view's data in place.
func (r *Rewriter) RewriteView(v *domain.View) {
	if v == nil || r.baseURL == "" {
		return
	}
	for k, val := range v.Data {
		v.Data[k] = r.rewriteValue(val)
	}
}

func (r *Rewriter) rewriteValue(val any) any {
	switch t := val.(type) {
	case string:
		return r.rewriteString(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.rewriteValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = r.rewriteString(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = r.rewriteValue(item)
		}
		return out
	default:
		return val
	}
}

func (r *Rewriter) rewriteString(s string) string {
	if !strings.HasPrefix(s, storeScheme) {
		return s
	}
	return r.baseURL + "/assets/" + strings.TrimPrefix(s, storeScheme)
}
