package middleware

import "net/http"

// headerWriter defers header injection until the response is committed.
// Headers must be written before WriteHeader; wrapping here lets middlewares
// compute header values after the handler has run its side effects (timing,
// quota charges) but before the first byte goes out.
type headerWriter struct {
	http.ResponseWriter
	inject      func(http.Header)
	wroteHeader bool
}

func (w *headerWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.inject(w.Header())
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
