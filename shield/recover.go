package shield

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
)

// Recover turns a handler panic into a 500 JSON response in the search
// outcome shape and logs the stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			GetLogger(r.Context()).Error("shield: handler panic",
				"panic", rec, "stack", string(debug.Stack()))
			WriteJSONError(w, http.StatusInternalServerError, "Internal server error.", false)
		}()
		next.ServeHTTP(w, r)
	})
}

// WriteJSONError writes {"success":false,"results":[],"error":msg} with the
// retryable flag when set.
func WriteJSONError(w http.ResponseWriter, status int, msg string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"success": false,
		"results": []any{},
		"error":   msg,
	}
	if retryable {
		body["retryable"] = true
	}
	json.NewEncoder(w).Encode(body)
}
