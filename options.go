package wsmqtt

import (
	"crypto/tls"
	"time"

	"github.com/golang-io/requests"
)

// defaultKeepAlive mirrors spec.md §4.5 step 6: "default 400 s if zero".
const defaultKeepAlive = 400 * time.Second

// MaxSendSize is the default size of the MQTT codec's send buffer
// (spec.md §3: "default 3 MiB each").
const MaxSendSize = 3 << 20

// Will describes the CONNECT payload's last-will-and-testament fields
// (spec.md §6 connect parameters).
type Will struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool
}

// ConnectOptions carries the parameters spec.md §6 lists for Connect.
type ConnectOptions struct {
	ClientID    string
	Username    string
	Password    string
	Will        *Will
	KeepAlive   time.Duration
	TLSConfig   *tls.Config
	DialTimeout time.Duration
}

// ConnectOption configures a ConnectOptions value, following the
// functional-options style golang-io/mqtt uses in its own options.go.
type ConnectOption func(*ConnectOptions)

func newConnectOptions(opts ...ConnectOption) ConnectOptions {
	o := ConnectOptions{
		ClientID:    "wsmqtt-" + requests.GenId(),
		KeepAlive:   defaultKeepAlive,
		DialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = defaultKeepAlive
	}
	return o
}

// WithClientID overrides the generated client identifier.
func WithClientID(id string) ConnectOption {
	return func(o *ConnectOptions) { o.ClientID = id }
}

// WithCredentials sets the CONNECT username/password.
func WithCredentials(username, password string) ConnectOption {
	return func(o *ConnectOptions) { o.Username, o.Password = username, password }
}

// WithWill attaches a last-will message, flags per spec.md §4.5 step 6.
func WithWill(topic string, payload []byte, qos uint8, retain bool) ConnectOption {
	return func(o *ConnectOptions) {
		o.Will = &Will{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	}
}

// WithKeepAlive overrides the MQTT keep-alive interval. Zero falls back to
// the 400s default (spec.md §4.5 step 6, §8 boundary behavior).
func WithKeepAlive(d time.Duration) ConnectOption {
	return func(o *ConnectOptions) { o.KeepAlive = d }
}

// WithTLSConfig supplies the *tls.Config used for the handshake. The
// engine does not set a verification policy of its own (spec.md §9,
// "TLS verification" design note) — the zero value relies on the Go
// standard library's default certificate verification.
func WithTLSConfig(cfg *tls.Config) ConnectOption {
	return func(o *ConnectOptions) { o.TLSConfig = cfg }
}

// WithDialTimeout bounds the TCP connect (spec.md §4.5 step 4). The TLS
// handshake is bounded only by the context passed to Connect, and the
// WebSocket upgrade by neither.
func WithDialTimeout(d time.Duration) ConnectOption {
	return func(o *ConnectOptions) { o.DialTimeout = d }
}

func (o ConnectOptions) willFlags() uint8 {
	if o.Will == nil {
		return 0
	}
	f := uint8(0x04) // WillFlag, bit 2
	f |= (o.Will.QoS & 0x3) << willShift
	if o.Will.Retain {
		f |= willRetain
	}
	return f
}
