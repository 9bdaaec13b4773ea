package handler

import "net/http"

// Gone answers a retired endpoint with 410 and the path that replaced it.
func Gone(replacement string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, map[string]string{
			"error":       "this endpoint has been removed",
			"replacement": replacement,
		})
	}
}
