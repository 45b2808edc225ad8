// Package assets provides the embedded HTML page served by the /health
// endpoint, plus a Markdown reference of the JSON-RPC tool surface.
package assets

import (
	"bytes"
	"html"
	"html/template"
	"regexp"
)

// versionSanitizer matches the potentially dangerous characters SanitizeVersion removes from the version string.
// This prevents XSS via build-time ldflags injection.
// Only allows alphanumeric characters, dots, dashes, underscores, and plus signs.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string to prevent XSS attacks.
// Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	// First HTML escape, then remove any remaining suspicious characters
	escaped := html.EscapeString(version)
	sanitized := versionSanitizer.ReplaceAllString(escaped, "")
	if sanitized == "" {
		return "unknown"
	}
	// Limit length to prevent DoS via extremely long version strings
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// HealthPageData contains the data for rendering the health page.
type HealthPageData struct {
	Version     string
	GoVersion   string
	Uptime      string
	PoolSize    int
	PoolInUse   int
	Profiles    int
	Sessions    int
	Connections int
}

// healthPageTemplate is the pre-compiled health page template using html/template
// for automatic XSS protection.
var healthPageTemplate = template.Must(template.New("health").Parse(healthPageHTML))

// RenderHealthPage renders the health page with the given data.
// Uses html/template for automatic XSS escaping of all values.
func RenderHealthPage(data HealthPageData) (string, error) {
	// Pre-sanitize version as defense in depth
	data.Version = SanitizeVersion(data.Version)

	var buf bytes.Buffer
	if err := healthPageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// healthPageHTML is the template source for the health page.
// SECURITY: This template uses html/template which auto-escapes all values.
// Additionally, the Version field is pre-sanitized before rendering.
const healthPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>chromefleet Health</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e0e0e0;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
        }
        .container {
            text-align: center;
            padding: 2rem;
            background: rgba(255,255,255,0.05);
            border-radius: 16px;
            backdrop-filter: blur(10px);
            box-shadow: 0 8px 32px rgba(0,0,0,0.3);
            max-width: 500px;
        }
        h1 {
            color: #00d9ff;
            margin-bottom: 0.5rem;
            font-size: 2.5rem;
        }
        .subtitle {
            color: #888;
            margin-bottom: 2rem;
        }
        .status {
            display: inline-flex;
            align-items: center;
            gap: 0.5rem;
            padding: 0.75rem 1.5rem;
            background: rgba(0, 255, 128, 0.1);
            border: 1px solid rgba(0, 255, 128, 0.3);
            border-radius: 8px;
            color: #00ff80;
            font-weight: 600;
            margin-bottom: 1.5rem;
        }
        .status::before {
            content: '';
            width: 10px;
            height: 10px;
            background: #00ff80;
            border-radius: 50%;
            animation: pulse 2s infinite;
        }
        @keyframes pulse {
            0%, 100% { opacity: 1; }
            50% { opacity: 0.5; }
        }
        .info {
            text-align: left;
            background: rgba(0,0,0,0.2);
            padding: 1rem;
            border-radius: 8px;
            font-family: monospace;
            font-size: 0.9rem;
        }
        .info div {
            padding: 0.25rem 0;
        }
        .label {
            color: #888;
        }
        footer {
            margin-top: 2rem;
            color: #666;
            font-size: 0.8rem;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>chromefleet</h1>
        <p class="subtitle">Chrome automation fleet</p>
        <div class="status">Service Healthy</div>
        <div class="info">
            <div><span class="label">Version:</span> {{.Version}}</div>
            <div><span class="label">Go Version:</span> {{.GoVersion}}</div>
            <div><span class="label">Uptime:</span> {{.Uptime}}</div>
            <div><span class="label">Pool:</span> {{.PoolInUse}}/{{.PoolSize}} in use</div>
            <div><span class="label">Profiles:</span> {{.Profiles}}</div>
            <div><span class="label">Sessions:</span> {{.Sessions}}</div>
            <div><span class="label">Connections:</span> {{.Connections}}</div>
        </div>
        <footer>JSON-RPC tool server</footer>
    </div>
</body>
</html>`

// APIDocumentation is a Markdown quick reference for the JSON-RPC tool
// surface. No HTTP route serves it.
var APIDocumentation = `# chromefleet Tool Server

## Transports

- stdio: one line-delimited JSON-RPC document per request/response.
- WebSocket: one JSON-RPC document per text message, same methods.

## Methods

### initialize
Returns the protocol version and server info.

### authenticate
Exchanges a bearer token or HMAC-signed request for an authenticated session,
when auth is enabled.

### tools/list
Lists every registered tool with its JSON Schema input shape.

### tools/call
` + "```json" + `
{
    "jsonrpc": "2.0",
    "id": 1,
    "method": "tools/call",
    "params": {"name": "browser_navigate", "arguments": {"url": "https://example.com"}}
}
` + "```" + `

## Tool categories

- lifecycle: browser_launch, browser_terminate, browser_list, browser_get_active
- navigation: browser_navigate, browser_back, browser_forward, browser_refresh
- input: browser_click, browser_type, browser_select, browser_scroll, browser_execute_script
- content: browser_get_html, browser_get_text, browser_extract_links, browser_extract_forms, browser_screenshot
- storage: browser_get_cookies, browser_set_cookie, browser_clear_cookies, browser_read_storage, browser_write_storage, browser_clear_storage
- tabs: browser_get_tabs, browser_switch_tab
- logging: browser_get_console_logs, browser_get_network_logs
- profile: profile_create, profile_list, profile_delete
- session: session_save, session_load, session_list, session_delete

## GET /health
Health check page, always rendered as HTML.

## GET /metrics
Prometheus metrics endpoint.
`
