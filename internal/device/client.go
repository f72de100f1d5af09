package device

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewHTTPClient builds the HTTP client used for all requests against one
// device. Devices on private networks commonly present self-signed
// certificates, so insecure mode disables verification when the device is
// configured that way.
func NewHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
