// Package upstream issues the one-shot HTTP and WebSocket requests Builder
// and WsEngine need against a configured remote (spec.md §4.5). Errors
// collapse to a single "no response" outcome per route — the Dispatcher
// treats an unreachable upstream the same as a 404, by design.
package upstream

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/logging"
)

// Response is the collapsed result of a one-shot HTTP fetch (spec.md §4.5).
type Response struct {
	Status  int
	Headers catalogpkg.Headers
	Body    []byte
}

// NoResponseError is constructed for every transport failure before it is
// logged and collapsed to ok=false, in the teacher's error-struct style
// (_examples/worldiety-vfs/errors.go's *FooError/Unwrap pattern) — the
// bool-ok return stays the public contract (spec.md §4.5, DESIGN.md), but
// the failure itself is always a real, inspectable error on its way there.
type NoResponseError struct {
	URL   string
	Cause error
}

func (e *NoResponseError) Error() string {
	return "upstream: no response from " + e.URL
}

// Unwrap returns nil or the cause.
func (e *NoResponseError) Unwrap() error {
	return e.Cause
}

// Client issues HTTP and WebSocket requests against an upstream remote.
// No retries are performed (spec.md §4.5); an unreachable remote or any
// transport error simply yields ok=false.
type Client struct {
	http   *http.Client
	dialer *websocket.Dialer
	log    *zerolog.Logger
}

// New builds a Client. insecureSkipVerify disables TLS certificate
// validation on both the HTTP and WebSocket transports (spec.md §4.5:
// "MAY be configured to accept invalid TLS certificates").
func New(insecureSkipVerify bool) *Client {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecureSkipVerify} // #nosec G402 -- opt-in, spec.md §4.5

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			// No client-side timeout: spec.md §9 documents this as a known gap,
			// preserved deliberately rather than papered over.
		},
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: 45 * time.Second,
		},
		log: logging.New("upstream"),
	}
}

// FetchHTTP issues one HTTP request and collapses any transport failure to
// ok=false (spec.md §4.5).
func (c *Client) FetchHTTP(method, url string, headers catalogpkg.Headers, body []byte) (Response, bool) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		c.log.Debug().Err(&NoResponseError{URL: url, Cause: err}).Msg("building upstream request failed")
		return Response{}, false
	}
	for _, h := range headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(&NoResponseError{URL: url, Cause: err}).Msg("upstream request failed")
		return Response{}, false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Debug().Err(&NoResponseError{URL: url, Cause: err}).Msg("reading upstream response body failed")
		return Response{}, false
	}

	var hdrs catalogpkg.Headers
	for name, values := range resp.Header {
		for _, v := range values {
			hdrs.Add(name, v)
		}
	}

	return Response{Status: resp.StatusCode, Headers: hdrs, Body: respBody}, true
}

// WsConn is the pair of halves WsEngine drives concurrently: ReadMessage
// drains the upstream, WriteMessage/Close feed and tear it down.
type WsConn struct {
	conn *websocket.Conn
}

// ReadMessage reads one frame from the upstream socket.
func (w *WsConn) ReadMessage() (messageType int, payload []byte, err error) {
	return w.conn.ReadMessage()
}

// WriteMessage writes one frame to the upstream socket.
func (w *WsConn) WriteMessage(messageType int, payload []byte) error {
	return w.conn.WriteMessage(messageType, payload)
}

// Close tears down the upstream socket.
func (w *WsConn) Close() error {
	return w.conn.Close()
}

// RewriteScheme implements the scheme-rewrite quirk in spec.md §6: the
// leading "http"/"https" is replaced with "ws". When strictWSS is set, an
// https remote correctly becomes wss instead of the preserved historical
// quirk (spec.md §9 Open Question, resolved in DESIGN.md).
func RewriteScheme(url string, strictWSS bool) string {
	switch {
	case strictWSS && strings.HasPrefix(url, "https"):
		return "wss" + url[len("https"):]
	case strings.HasPrefix(url, "https"):
		return "ws" + url[len("https"):]
	case strings.HasPrefix(url, "http"):
		return "ws" + url[len("http"):]
	default:
		return url
	}
}

// ConnectWS opens a WebSocket connection to url (spec.md §4.5).
func (c *Client) ConnectWS(url string, headers catalogpkg.Headers) (*WsConn, bool) {
	h := make(http.Header)
	for _, hd := range headers {
		h.Add(hd.Name, hd.Value)
	}

	conn, _, err := c.dialer.Dial(url, h)
	if err != nil {
		c.log.Debug().Err(&NoResponseError{URL: url, Cause: err}).Msg("upstream websocket dial failed")
		return nil, false
	}
	return &WsConn{conn: conn}, true
}
