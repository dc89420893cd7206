// timeout.go - Loopback request deadlines for forwarded tool calls.
package bridge

import "time"

// ResponseGrace is added on top of a tool's own deadline so the daemon's
// structured timeout error reaches the caller before the HTTP client gives up.
const ResponseGrace = 5 * time.Second

// MinRequestTimeout bounds requests that carry no tool deadline (tools list, health).
const MinRequestTimeout = 2 * time.Second

// RequestTimeout returns the HTTP client deadline for a call whose tool
// deadline is toolTimeout.
func RequestTimeout(toolTimeout time.Duration) time.Duration {
	if toolTimeout <= 0 {
		return MinRequestTimeout
	}
	return toolTimeout + ResponseGrace
}
