package app

import (
	"net/http"

	"github.com/vidstitch/adproxy/internal"
)

func addVersionAndCORSHeaders(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Adproxy-Version", internal.GetVersion())
		w.Header().Add("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
