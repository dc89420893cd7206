// version.go - MCP protocol version negotiation and backward compatibility.
package frontend

import "encoding/json"

const (
	protocolVersionLatest = "2025-06-18"
	protocolVersionLegacy = "2024-11-05"
)

// supportedVersions lists every version echoed back unchanged.
var supportedVersions = map[string]bool{
	protocolVersionLatest: true,
	"2025-03-26":          true,
	protocolVersionLegacy: true,
}

// negotiateProtocolVersion returns the protocol version selected for initialize.
// A supported client version is echoed; anything else gets the latest.
func negotiateProtocolVersion(rawParams json.RawMessage) string {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(rawParams) > 0 {
		_ = json.Unmarshal(rawParams, &params)
	}
	if supportedVersions[params.ProtocolVersion] {
		return params.ProtocolVersion
	}
	return protocolVersionLatest
}
