package audit

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallerFunc resolves the authenticated caller of a request.
type CallerFunc func(*http.Request) (common.Address, bool)

// Middleware records every mutating request with its caller and final status.
func Middleware(store *Store, caller CallerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			rec := Record{
				Kind:   KindRequest,
				Type:   r.Method + " " + r.URL.Path,
				Status: recorder.status,
			}
			if caller != nil {
				if addr, ok := caller(r); ok {
					rec.Caller = strings.ToLower(addr.Hex())
				}
			}
			store.Enqueue(rec)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
