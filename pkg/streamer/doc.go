/*
Package streamer implements the WebSocket file streaming protocol used by
the streamer transfer method.

The gateway submits a job running the server half (cmd/fc-streamer) on a
compute or login node; the server binds the first free port in a
configured range and waits for one peer. The gateway hands the user an
opaque connection token: base64url(JSON{ports, ips, secret}). The client
half scans the IP x port grid, authenticates with the secret as a bearer
token, and streams the file in 1-MiB binary frames terminated by the
literal text frame "EOF".
*/
package streamer
