// tools.go - Built-in browser tool definitions.
// Pure data: names, wire endpoints, default timeouts and input schemas.
package registry

import "time"

// BuiltinTools returns the browser tools served by the bridge. Order is the
// order reported by tools/list.
func BuiltinTools() []Tool {
	return []Tool{
		navigateTool(),
		screenshotTool(),
		clickTool(),
		typeTool(),
		evaluateTool(),
		getContentTool(),
		auditTool(),
		waitTool(),
		getConsoleTool(),
	}
}

// objectSchema assembles a closed object schema. Every tool accepts the
// optional timeout override in addition to its own properties.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	properties[TimeoutParam] = map[string]any{
		"type":        "integer",
		"minimum":     1,
		"description": "Override the default timeout in milliseconds (capped at 60000)",
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func navigateTool() Tool {
	return Tool{
		Name:           "browser_navigate",
		Title:          "Navigate",
		Description:    "Navigate the active tab to a URL and wait for the page to load.",
		WireEndpoint:   "navigate",
		DefaultTimeout: 30 * time.Second,
		Idempotent:     true,
		InputSchema: objectSchema(map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute URL to open (must include a scheme, e.g. https://)",
				"minLength":   1,
				"pattern":     "^[a-zA-Z][a-zA-Z0-9+.-]*:",
			},
			"newTab": map[string]any{
				"type":        "boolean",
				"description": "Open the URL in a new tab instead of the active one",
			},
		}, "url"),
	}
}

func screenshotTool() Tool {
	return Tool{
		Name:           "browser_screenshot",
		Title:          "Screenshot",
		Description:    "Capture a screenshot of the visible viewport, the full page, or one element.",
		WireEndpoint:   "screenshot",
		DefaultTimeout: 15 * time.Second,
		Idempotent:     true,
		ReadOnly:       true,
		InputSchema: objectSchema(map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector of the element to capture",
			},
			"fullPage": map[string]any{
				"type":        "boolean",
				"description": "Capture the full scrollable page",
			},
			"format": map[string]any{
				"type":        "string",
				"description": "Image format (default png)",
				"enum":        []string{"png", "jpeg"},
			},
			"quality": map[string]any{
				"type":        "integer",
				"description": "JPEG quality 0-100",
				"minimum":     0,
				"maximum":     100,
			},
		}),
	}
}

func clickTool() Tool {
	return Tool{
		Name:           "browser_click",
		Title:          "Click",
		Description:    "Click the element matching a CSS selector. Not retried automatically.",
		WireEndpoint:   "click",
		DefaultTimeout: 10 * time.Second,
		InputSchema: objectSchema(map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector of the element to click",
				"minLength":   1,
			},
			"button": map[string]any{
				"type": "string",
				"enum": []string{"left", "middle", "right"},
			},
			"clickCount": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 3,
			},
		}, "selector"),
	}
}

func typeTool() Tool {
	return Tool{
		Name:           "browser_type",
		Title:          "Type",
		Description:    "Type text into the element matching a CSS selector. Not retried automatically.",
		WireEndpoint:   "type",
		DefaultTimeout: 10 * time.Second,
		InputSchema: objectSchema(map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector of the input element",
				"minLength":   1,
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to type",
			},
			"clear": map[string]any{
				"type":        "boolean",
				"description": "Clear the field before typing",
			},
			"pressEnter": map[string]any{
				"type":        "boolean",
				"description": "Press Enter after typing",
			},
			"delayMs": map[string]any{
				"type":        "integer",
				"description": "Delay between keystrokes in milliseconds",
				"minimum":     0,
				"maximum":     1000,
			},
		}, "selector", "text"),
	}
}

func evaluateTool() Tool {
	return Tool{
		Name:           "browser_evaluate",
		Title:          "Evaluate",
		Description:    "Evaluate a JavaScript expression in the page and return its JSON-serializable result.",
		WireEndpoint:   "evaluate",
		DefaultTimeout: 10 * time.Second,
		InputSchema: objectSchema(map[string]any{
			"script": map[string]any{
				"type":        "string",
				"description": "JavaScript to evaluate",
				"minLength":   1,
			},
			"awaitPromise": map[string]any{
				"type":        "boolean",
				"description": "Await the result if it is a Promise",
			},
		}, "script"),
	}
}

func getContentTool() Tool {
	return Tool{
		Name:           "browser_get_content",
		Title:          "Get content",
		Description:    "Return the HTML or text content of the page or of one element.",
		WireEndpoint:   "getContent",
		DefaultTimeout: 15 * time.Second,
		Idempotent:     true,
		ReadOnly:       true,
		InputSchema: objectSchema(map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector to scope the content (default: document)",
			},
			"format": map[string]any{
				"type": "string",
				"enum": []string{"html", "text"},
			},
		}),
	}
}

func auditTool() Tool {
	return Tool{
		Name:           "browser_audit",
		Title:          "Audit",
		Description:    "Run a Lighthouse audit of the active page.",
		WireEndpoint:   "audit",
		DefaultTimeout: 60 * time.Second,
		Idempotent:     true,
		ReadOnly:       true,
		InputSchema: objectSchema(map[string]any{
			"categories": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []string{"performance", "accessibility", "best-practices", "seo"},
				},
			},
			"device": map[string]any{
				"type": "string",
				"enum": []string{"mobile", "desktop"},
			},
		}),
	}
}

func waitTool() Tool {
	return Tool{
		Name:           "browser_wait",
		Title:          "Wait",
		Description:    "Wait for an element to reach a state, or for a fixed duration.",
		WireEndpoint:   "wait",
		DefaultTimeout: 30 * time.Second,
		Idempotent:     true,
		ReadOnly:       true,
		InputSchema: objectSchema(map[string]any{
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector to wait for",
			},
			"state": map[string]any{
				"type": "string",
				"enum": []string{"attached", "detached", "visible", "hidden"},
			},
			"durationMs": map[string]any{
				"type":        "integer",
				"description": "Fixed wait in milliseconds when no selector is given",
				"minimum":     0,
				"maximum":     60000,
			},
		}),
	}
}

func getConsoleTool() Tool {
	return Tool{
		Name:           "browser_get_console",
		Title:          "Get console",
		Description:    "Return console messages captured from the active tab.",
		WireEndpoint:   "getConsole",
		DefaultTimeout: 5 * time.Second,
		Idempotent:     true,
		ReadOnly:       true,
		InputSchema: objectSchema(map[string]any{
			"level": map[string]any{
				"type": "string",
				"enum": []string{"all", "debug", "log", "info", "warn", "error"},
			},
			"limit": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 1000,
			},
			"clear": map[string]any{
				"type":        "boolean",
				"description": "Clear the captured buffer after reading",
			},
		}),
	}
}
