package netx

import (
	"math/rand"
	"net/http"
	"net/url"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36 Edg/129.0.0.0",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8",
	"en-US,en;q=0.7,it;q=0.3",
}

// RandomHeaders returns a fresh browser-like header set. The pools are
// read-only, so concurrent callers never share state.
func RandomHeaders() http.Header {
	h := make(http.Header, 3)
	h.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	return h
}

// RotateHost returns rawURL with its host replaced by hosts[n%len(hosts)].
// With no hosts, or an unparsable URL, rawURL is returned unchanged.
func RotateHost(rawURL string, hosts []string, n int) string {
	if len(hosts) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if n < 0 {
		n = -n
	}
	u.Host = hosts[n%len(hosts)]
	return u.String()
}
