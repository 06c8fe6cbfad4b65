package notify

import (
	"fmt"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/gobwas/glob"
)

// route sends buckets matching any of its globs to a recipient set
type route struct {
	globs []glob.Glob
	to    []string
}

// Router maps bucket names to recipient sets
type Router struct {
	routes []route
}

// NewRouter compiles the bucket patterns of each route
func NewRouter(routes []cfg.RouteConfiguration) (*Router, error) {
	r := &Router{routes: make([]route, 0, len(routes))}

	for i, rc := range routes {
		if len(rc.To) == 0 {
			return nil, fmt.Errorf("route %d has no recipients", i)
		}
		compiled := route{
			globs: make([]glob.Glob, 0, len(rc.Buckets)),
			to:    append([]string(nil), rc.To...),
		}
		for _, pattern := range rc.Buckets {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid bucket pattern %q: %w", pattern, err)
			}
			compiled.globs = append(compiled.globs, g)
		}
		r.routes = append(r.routes, compiled)
	}

	return r, nil
}

// Match returns the recipient sets of every route matching the bucket, in
// configuration order
func (r *Router) Match(bucketName string) [][]string {
	var out [][]string
	for _, rt := range r.routes {
		for _, g := range rt.globs {
			if g.Match(bucketName) {
				out = append(out, rt.to)
				break
			}
		}
	}
	return out
}
