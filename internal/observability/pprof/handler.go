package pprof

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

const (
	defaultAddr   = "127.0.0.1:6060"
	defaultPrefix = "/debug/pprof/"
)

// handler assembles the mux for one server generation: the profile routes
// under the configured prefix, a /healthz liveness probe, and token auth in
// front of everything when a token is set.
func handler(cfg Config) http.Handler {
	prefix := canonicalPrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(prefix, indexAt(prefix))
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": hpprof.Cmdline,
		"profile": hpprof.Profile,
		"symbol":  hpprof.Symbol,
		"trace":   hpprof.Trace,
	} {
		mux.HandleFunc(base+"/"+name, h)
	}
	mux.Handle(base, http.RedirectHandler(prefix, http.StatusPermanentRedirect))

	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		return requireToken(tok, mux)
	}
	return mux
}

// canonicalPrefix normalizes a route prefix to the "/like/this/" form. Empty
// and bare-slash prefixes fall back to the stdlib default.
func canonicalPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return defaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// hpprof.Index insists on serving at /debug/pprof/; rewrite request paths so
// custom prefixes work without forking it.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		clone := r.Clone(r.Context())
		clone.URL.Path = "/debug/pprof/" + rest
		hpprof.Index(w, clone)
	}
}

// requireToken gates every route on a shared secret, accepted as either an
// Authorization bearer header or a token query parameter.
func requireToken(tok string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == tok || bearerToken(r) == tok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func bearerToken(r *http.Request) string {
	const scheme = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, scheme) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, scheme))
}

// loopbackHost reports whether addr binds only a loopback interface. An
// empty host (":6060") listens everywhere and does not count.
func loopbackHost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	switch {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
