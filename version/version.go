// Package version provides the node version string reported in the startup
// log line for diagnostics.
package version

var (
	// ClientVersion is reported in log lines and may ride along in a future
	// HANDSHAKE payload field; spec §4.4 doesn't require it on the wire today.
	ClientVersion string
)

func init() {
	ClientVersion = "relaycast/0.1"
}
