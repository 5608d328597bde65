package wsmqtt

import "errors"

// Sentinel errors returned by Connect, Publish, Subscribe and Unsubscribe.
//
// spec.md §7/§6 define the engine's results as small numeric codes
// (POLL_FAILED, CONN_DROP, PROTO_WS, PROTO_MQTT for service; -1/-3/1/2 for
// connect). Idiomatic Go trades the numbers for sentinel errors checked
// with errors.Is, the way golang-io/mqtt itself prefers errors.New over
// magic constants throughout client.go and conn.go. The mapping:
//
//	spec code                    -> this package
//	service: OK (0)               -> nil
//	service: POLL_FAILED (-2)     -> ErrPollFailed
//	service: CONN_DROP             -> ErrConnDrop
//	service: PROTO_WS              -> ErrProtoWS
//	service: PROTO_MQTT            -> ErrProtoMQTT
//	connect: -1 (resolve/socket)   -> ErrResolve
//	connect: -3 (tcp connect)      -> ErrDial
//	connect: 1 (mqtt encode)       -> ErrEncode
//	connect: 2 (handshake)         -> ErrHandshake
var (
	// ErrPollFailed mirrors the poll(2) failure branch of spec.md §4.6 step 2.
	// This engine has no poll(2) call, so nothing in the package returns it.
	ErrPollFailed = errors.New("wsmqtt: readiness wait failed")

	// ErrConnDrop mirrors CONN_DROP: TLS/WebSocket transport fatally closed.
	ErrConnDrop = errors.New("wsmqtt: connection dropped")

	// ErrProtoWS mirrors PROTO_WS: the WebSocket layer rejected the stream.
	// The service loop does not return it: a read error other than io.EOF,
	// including one from the WebSocket layer, is reported as ErrProtoMQTT.
	ErrProtoWS = errors.New("wsmqtt: websocket protocol error")

	// ErrProtoMQTT mirrors PROTO_MQTT: the MQTT codec rejected the stream.
	ErrProtoMQTT = errors.New("wsmqtt: mqtt protocol error")

	// ErrResolve mirrors connect code -1: DNS resolution failed, or the URL
	// could not be turned into a WebSocket location.
	ErrResolve = errors.New("wsmqtt: host resolution failed")

	// ErrDial mirrors connect code -3: the TCP/TLS/WebSocket dial failed.
	ErrDial = errors.New("wsmqtt: dial failed")

	// ErrEncode mirrors connect code 1: the codec rejected the CONNECT request.
	ErrEncode = errors.New("wsmqtt: failed to encode CONNECT")

	// ErrHandshake mirrors connect code 2: service() errored before CONNACK arrived.
	ErrHandshake = errors.New("wsmqtt: handshake failed before CONNACK")

	// ErrNotConnected is returned by Publish/Subscribe before a CONNACK has
	// been observed (spec.md invariant 2).
	ErrNotConnected = errors.New("wsmqtt: not connected")

	// ErrDisconnecting is returned by Publish once Disconnect has begun
	// (spec.md §4.7: disconnecting rejects new sends).
	ErrDisconnecting = errors.New("wsmqtt: disconnecting")

	// ErrMessageTooLarge is returned by Publish when the payload would not
	// fit the codec's send buffer (spec.md §8 boundary behavior).
	ErrMessageTooLarge = errors.New("wsmqtt: message exceeds maximum send size")

	// ErrClosed is not returned by any function in this package: after
	// Close, Publish/Subscribe return ErrNotConnected, and after Disconnect
	// they return ErrDisconnecting.
	ErrClosed = errors.New("wsmqtt: client closed")
)
