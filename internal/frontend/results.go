// results.go - Converts gateway outcomes into MCP tool results.
// Tool failures are successful JSON-RPC responses carrying isError: true.
package frontend

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// toolErrorResult renders any call failure as an isError result.
func toolErrorResult(err error) json.RawMessage {
	return mcp.ToolErrorResponse(mcp.AsToolError(err))
}

// toolSuccessResult renders extension reply data. Base64 image data URLs
// become image blocks; everything else is summarized as JSON text.
func toolSuccessResult(tool string, data json.RawMessage) json.RawMessage {
	var decoded any
	if len(data) == 0 || json.Unmarshal(data, &decoded) != nil {
		return mcp.TextResponse(fmt.Sprintf("%s completed", tool))
	}

	switch v := decoded.(type) {
	case string:
		if mime, payload, ok := mcp.ParseDataURL(v); ok {
			return mcp.ContentResponse([]mcp.MCPContentBlock{{Type: "image", Data: payload, MimeType: mime}})
		}
		return mcp.TextResponse(v)
	case map[string]any:
		images := extractImages(v)
		if len(images) == 0 {
			return mcp.TextResponse(mcp.JSONText(tool+" completed", v))
		}
		blocks := make([]mcp.MCPContentBlock, 0, len(images)+1)
		if len(v) > 0 {
			blocks = append(blocks, mcp.MCPContentBlock{Type: "text", Text: mcp.JSONText(tool+" completed", v)})
		}
		return mcp.ContentResponse(append(blocks, images...))
	default:
		return mcp.TextResponse(mcp.JSONText(tool+" completed", v))
	}
}

// extractImages removes top-level image data URLs from obj and returns them
// as image blocks in key order.
func extractImages(obj map[string]any) []mcp.MCPContentBlock {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var images []mcp.MCPContentBlock
	for _, k := range keys {
		s, ok := obj[k].(string)
		if !ok {
			continue
		}
		mime, payload, ok := mcp.ParseDataURL(s)
		if !ok {
			continue
		}
		images = append(images, mcp.MCPContentBlock{Type: "image", Data: payload, MimeType: mime})
		delete(obj, k)
	}
	return images
}
