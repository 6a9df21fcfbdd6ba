package server

import (
	"net/http"
	"strings"
)

// handlerFunc receives the path parameters matched by its route.
type handlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string)

type route struct {
	method  string
	pattern string
	handler handlerFunc
}

// MatchPath matches a URL path against a pattern with {param} segments,
// e.g. "/locks/{id}/tap". Returns the extracted parameters and whether it matched.
func MatchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")

	// Must have same number of segments
	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i, part := range patternParts {
		if len(part) > 2 && part[0] == '{' && part[len(part)-1] == '}' {
			if pathParts[i] == "" {
				return nil, false
			}
			params[part[1:len(part)-1]] = pathParts[i]
		} else if part != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

// dispatch finds the route for r. A path that matches with the wrong method
// gets 405.
func dispatch(routes []route, w http.ResponseWriter, r *http.Request) {
	pathMatched := false
	for _, rt := range routes {
		params, ok := MatchPath(rt.pattern, r.URL.Path)
		if !ok {
			continue
		}
		if rt.method != r.Method {
			pathMatched = true
			continue
		}
		rt.handler(w, r, params)
		return
	}

	if pathMatched {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}
