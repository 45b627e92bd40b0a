package hostplane

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// hopByHopHeaders are connection-scoped and must not be forwarded in
// either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// proxyHTTP forwards the request to the instance's loopback port and relays
// the response verbatim. Bodies stream in both directions — nothing is
// buffered, so large and long-lived payloads flow through. The upstream
// call inherits the client's context (a dropped client cancels the hop) and
// an independent per-request timeout so a hung script cannot pin the
// gateway. Upstream failure after a successful lookup is reported as 502;
// the gateway never retries against a different instance, since instances
// do not share in-process state.
func (g *Gateway) proxyHTTP(w http.ResponseWriter, r *http.Request, inst *Instance) {
	ctx, cancel := context.WithTimeout(r.Context(), g.proxyTimeout)
	defer cancel()

	target := fmt.Sprintf("http://127.0.0.1:%d%s", inst.Port, r.URL.RequestURI())
	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		http.Error(w, ErrUpstreamUnavailable.Error(), http.StatusBadGateway)
		return
	}
	out.ContentLength = r.ContentLength

	copyProxyHeaders(out.Header, r.Header)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			host = prior + ", " + host
		}
		out.Header.Set("X-Forwarded-For", host)
	}

	resp, err := g.transport.RoundTrip(out)
	if err != nil {
		logProxyError(inst, err)
		http.Error(w, ErrUpstreamUnavailable.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	copyProxyHeaders(dst, resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(&flushWriter{w: w}, resp.Body); err != nil {
		// Mid-body failure: the status line is already gone, all we can do
		// is drop the connection and note it.
		logProxyError(inst, err)
	}
}

// copyProxyHeaders copies end-to-end headers, dropping hop-by-hop ones and
// anything named by the Connection header.
func copyProxyHeaders(dst, src http.Header) {
	dropped := map[string]bool{}
	for _, h := range hopByHopHeaders {
		dropped[h] = true
	}
	for _, name := range src.Values("Connection") {
		for _, h := range strings.Split(name, ",") {
			dropped[http.CanonicalHeaderKey(strings.TrimSpace(h))] = true
		}
	}
	for name, values := range src {
		if dropped[name] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// flushWriter flushes after every chunk so streaming responses (SSE,
// chunked progress) reach the client as they are produced.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// proxyWebSocket bridges a client WebSocket to the instance's listener:
// accept the client side, dial the upstream side, then pump frames both
// ways until either peer closes. Close status propagates across the
// bridge.
func (g *Gateway) proxyWebSocket(w http.ResponseWriter, r *http.Request, inst *Instance) {
	offers := offeredSubprotocols(r.Header)
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       offers,
		InsecureSkipVerify: true, // origin policy is the tenant script's concern
	})
	if err != nil {
		return
	}

	target := fmt.Sprintf("ws://127.0.0.1:%d%s", inst.Port, r.URL.RequestURI())
	hdr := http.Header{}
	copyProxyHeaders(hdr, r.Header)
	hdr.Del("Sec-Websocket-Key")
	hdr.Del("Sec-Websocket-Version")
	hdr.Del("Sec-Websocket-Extensions")
	hdr.Del("Sec-Websocket-Protocol")

	upstream, _, err := websocket.Dial(r.Context(), target, &websocket.DialOptions{
		HTTPHeader:   hdr,
		Subprotocols: offers,
	})
	if err != nil {
		logProxyError(inst, err)
		client.Close(websocket.StatusBadGateway, "upstream instance unavailable")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- pumpWebSocket(ctx, upstream, client) }()
	go func() { errc <- pumpWebSocket(ctx, client, upstream) }()

	err = <-errc
	cancel()
	status := websocket.CloseStatus(err)
	if status == -1 {
		status = websocket.StatusNormalClosure
	}
	client.Close(status, "")
	upstream.Close(status, "")
	<-errc
}

// offeredSubprotocols parses the client's Sec-WebSocket-Protocol offer so
// the same list can be renegotiated on both legs of the bridge.
func offeredSubprotocols(h http.Header) []string {
	var offers []string
	for _, v := range h.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				offers = append(offers, p)
			}
		}
	}
	return offers
}

// pumpWebSocket copies messages from src to dst until the connection or
// context ends.
func pumpWebSocket(ctx context.Context, dst, src *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}
