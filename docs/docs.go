// Package docs registers the swagger spec generated from the annotated
// handlers in internal/server and internal/pulse. It is imported for its
// side effect (swag.Register) by cmd/pathlensd so http-swagger has a spec to
// serve at /swagger/doc.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "description": "Check if the server process is alive.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "Server is alive"}
                }
            }
        },
        "/readyz": {
            "get": {
                "description": "Check if the server is ready to handle traffic.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "Server is ready"},
                    "503": {"description": "Server is not ready"}
                }
            }
        },
        "/api/v1/health": {
            "get": {
                "description": "Get detailed health information including version details.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Health information"}
                }
            }
        },
        "/api/v1/plugins": {
            "get": {
                "description": "Get a list of all registered plugins with their metadata.",
                "produces": ["application/json"],
                "tags": ["plugins"],
                "summary": "List plugins",
                "responses": {
                    "200": {"description": "List of plugins"}
                }
            }
        },
        "/api/v1/diagnostics/trace": {
            "get": {
                "description": "Run an ICMP traceroute to a target.",
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Trace a path",
                "parameters": [
                    {"name": "target", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Trace result"},
                    "400": {"description": "Invalid target"},
                    "502": {"description": "Trace failed"}
                }
            }
        },
        "/api/v1/diagnostics/ping": {
            "get": {
                "description": "Run an ICMP ping to a target.",
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Ping a target",
                "parameters": [
                    {"name": "target", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Ping result"},
                    "400": {"description": "Invalid target"},
                    "502": {"description": "Ping failed"}
                }
            }
        },
        "/api/v1/diagnostics/discover": {
            "get": {
                "description": "Discover ECMP paths to a target.",
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Discover paths",
                "parameters": [
                    {"name": "target", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Discovered topology"},
                    "400": {"description": "Invalid target"},
                    "502": {"description": "Discovery failed"}
                }
            }
        }
    }
}`

// SwaggerInfo holds the parsed swagger spec, registered under the "swagger"
// instance name that http-swagger's default handler looks up.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "pathlens diagnostics API",
	Description:      "ICMP traceroute, ping, multipath discovery, and ASN/territory classification.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
