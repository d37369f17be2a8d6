package lti

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

// Response is a terminal protocol response: status, body and headers.
type Response struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// Text is a plain text response.
func Text(status int, body string) Response {
	return Response{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

// JSON encodes v as the response body. Encoding failures become a 500.
func JSON(status int, v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Text(http.StatusInternalServerError, err.Error())
	}
	return Response{
		StatusCode: status,
		Body:       string(b),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// Redirect is a 302 to location.
func Redirect(location string) Response {
	return Response{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": location},
	}
}

// Write sends the response.
func (r Response) Write(w http.ResponseWriter) {
	for k, v := range r.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(r.StatusCode)
	if r.Body != "" {
		_, _ = w.Write([]byte(r.Body))
	}
}

// guard runs fn and writes its response. A panic becomes a 500 with the panic text,
// so every request yields exactly one terminal response.
func guard(fn func(*http.Request) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp Response
		func() {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					resp = Text(http.StatusInternalServerError, fmt.Sprint(p))
				}
			}()
			resp = fn(r)
		}()
		resp.Write(w)
	}
}

// SourceIP returns the caller address without port. Behind a proxy, mount
// ClientIP first so RemoteAddr carries the client address.
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
