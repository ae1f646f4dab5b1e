package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// StripEmptyQueryParams removes query parameters with blank values, so "?from=" reads like no from at all.
func StripEmptyQueryParams() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			filtered := make(url.Values, len(q))
			for k, vs := range q {
				for _, v := range vs {
					if strings.TrimSpace(v) != "" {
						filtered[k] = append(filtered[k], v)
					}
				}
			}
			r.URL.RawQuery = filtered.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
