/*
Package api is the HTTP surface of the gateway. Handlers resolve the
{system} path segment to a cluster bundle, authenticate the caller from
the bearer token, consult the availability gate and dispatch to the
backend; results are shaped into JSON and errors travel through a single
status mapper.

Interactive job attach is served over a WebSocket that bridges a remote
process started through the user's pooled SSH connection.
*/
package api
