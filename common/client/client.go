package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/logger"
)

// HTTPClient forwards proxied client traffic. No overall deadline:
// streaming conversations can run for a long time, bounded instead by
// the response-header timeout and caller cancellation.
var HTTPClient *http.Client

// ProbeHTTPClient runs detection probes under a hard deadline.
var ProbeHTTPClient *http.Client

// proxyClients caches per-proxy-URL clients so each request does not
// rebuild a transport. Relay clients are keyed by "<proxyURL>", probe
// clients by "<proxyURL>|probe".
var proxyClients sync.Map

func Init() {
	HTTPClient = newClient(config.GlobalProxy, false)
	ProbeHTTPClient = newClient(config.GlobalProxy, true)
}

// ForProxy returns a client tunneling through proxyURL. http:// and
// https:// proxies use CONNECT, socks5:// uses SOCKS5; an empty URL
// falls back to the process-wide default.
func ForProxy(proxyURL string, probe bool) (*http.Client, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		if probe {
			return ProbeHTTPClient, nil
		}
		return HTTPClient, nil
	}
	if err := ValidateProxyURL(proxyURL); err != nil {
		return nil, err
	}
	key := proxyURL
	if probe {
		key += "|probe"
	}
	if v, ok := proxyClients.Load(key); ok {
		return v.(*http.Client), nil
	}
	c := newClient(proxyURL, probe)
	actual, _ := proxyClients.LoadOrStore(key, c)
	return actual.(*http.Client), nil
}

// ValidateProxyURL rejects proxy URLs whose scheme the transport cannot
// tunnel through.
func ValidateProxyURL(proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return errors.Wrapf(err, "invalid proxy url %q", proxyURL)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
		return nil
	default:
		return errors.Errorf("unsupported proxy scheme %q, want http, https or socks5", u.Scheme)
	}
}

func newClient(proxyURL string, probe bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 15 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			// net/http dials socks5:// proxies natively, CONNECT otherwise.
			transport.Proxy = http.ProxyURL(u)
		} else {
			logger.Logger.Warn("ignoring unparsable proxy url: " + proxyURL)
		}
	}
	client := &http.Client{Transport: transport}
	if probe {
		client.Timeout = config.ProbeTimeout
	} else {
		// Streamed responses may idle between bytes for minutes; only the
		// wait for response headers is bounded.
		transport.ResponseHeaderTimeout = config.RelayIdleTimeout
	}
	return client
}

// ErrorKind classifies a transport failure for probe logs and proxy
// error payloads.
type ErrorKind string

const (
	ErrKindTimeout   ErrorKind = "timeout"
	ErrKindCancelled ErrorKind = "cancelled"
	ErrKindConnect   ErrorKind = "connect-error"
	ErrKindTLS       ErrorKind = "tls-error"
	ErrKindIO        ErrorKind = "io-error"
)

// Classify maps a transport error onto its kind with a short diagnostic.
func Classify(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled, "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout, "request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout, "request timed out"
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return ErrKindTLS, "tls verification failed"
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return ErrKindTLS, "tls handshake failed"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return ErrKindConnect, "connection failed: " + opErr.Err.Error()
		}
		return ErrKindIO, "network error: " + opErr.Err.Error()
	}
	return ErrKindIO, err.Error()
}
