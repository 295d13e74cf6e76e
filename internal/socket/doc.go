// Package socket wraps a single gorilla/websocket connection to the gateway.
//
// A Conn:
//   - Dials the endpoint URL and reads text frames into a buffered channel
//   - Serializes writes and applies write deadlines
//   - Keeps the link alive with pings and detects stale peers
//   - Reports the observed close code and reason exactly once via Closed
package socket
