package app

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns the client shared by page, API, model and judge
// requests. Per-call deadlines come from contexts; Timeout only guards
// against hung connections.
func newHTTPClient(maxPerHost int) *http.Client {
	if maxPerHost <= 0 {
		maxPerHost = defaultMaxConcurrent
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   120 * time.Second,
	}
}
