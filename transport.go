package wsmqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"golang.org/x/net/websocket"
)

// wireConn is the minimal surface Client needs from its transport. In
// production it is satisfied by *websocket.Conn; internal/mockbroker
// satisfies it with a plain net.Conn over net.Pipe, since WS framing and
// TLS are external collaborators per spec.md §1 and don't need to be
// exercised to test the MQTT state machine itself.
type wireConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// dial opens the transport spec.md §4.5 steps 1-5 describe: TCP connect,
// TCP_NODELAY, TLS handshake, then the WebSocket upgrade with the "mqtt"
// subprotocol and binary frames. Adapted from golang-io/mqtt's
// Client.dial, generalized from a scheme switch to the single
// ws+TLS path this engine actually needs (spec.md §1 scope: "WS framing
// and TLS are external collaborators").
func dial(ctx context.Context, rawURL string, cfg ConnectOptions) (wireConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	path := u.Path
	if path == "" {
		path = "/mqtt"
	}
	loc := &url.URL{Scheme: "wss", Host: u.Host, Path: path}
	origin := &url.URL{Scheme: "https", Host: u.Host}

	wsCfg, err := websocket.NewConfig(loc.String(), origin.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	wsCfg.Protocol = []string{"mqtt"}
	wsCfg.TlsConfig = cfg.TLSConfig
	if wsCfg.TlsConfig == nil {
		wsCfg.TlsConfig = &tls.Config{}
	}
	if wsCfg.TlsConfig.ServerName == "" {
		tc := wsCfg.TlsConfig.Clone()
		tc.ServerName = u.Hostname()
		wsCfg.TlsConfig = tc
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, fmt.Errorf("%w: %v", ErrResolve, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	if tc, ok := tcpConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true) // matches the original's TCP_NODELAY setsockopt
	}

	tlsConn := tls.Client(tcpConn, wsCfg.TlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}

	ws, err := websocket.NewClient(wsCfg, tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	ws.PayloadType = websocket.BinaryFrame
	return ws, nil
}
