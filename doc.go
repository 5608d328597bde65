// Package wsmqtt implements an MQTT 3.1.1 client that tunnels over a
// WebSocket connection secured with TLS — the Go port of
// thiagoftsm/mqtt_websockets' poll(2)-driven client, restructured around
// goroutines and channels instead of a raw two-descriptor poll loop.
//
// A Client owns exactly one connection. Connect dials and performs the
// MQTT handshake; Publish/Subscribe/Unsubscribe operate once connected;
// Disconnect runs the graceful four-phase shutdown. See SPEC_FULL.md for
// the full design this package follows.
package wsmqtt
