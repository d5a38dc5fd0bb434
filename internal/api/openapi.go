package api

import (
	"fmt"

	"github.com/mattjoyce/aibridge/internal/capability"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering the given capabilities and the ledger endpoints.
func buildOpenAPIDoc(enabled []capability.Name) map[string]any {
	paths := map[string]any{}

	for _, name := range enabled {
		path, ok := routes[name]
		if !ok {
			continue
		}
		paths[path] = map[string]any{"post": capabilityOperation(name)}
	}

	paths["/v1/invocations"] = map[string]any{
		"get": map[string]any{
			"operationId": "invocations__list",
			"summary":     "List recent invocations",
			"tags":        []string{"invocations"},
			"parameters": []any{
				queryParam("limit", "integer"),
				queryParam("label", "string"),
				queryParam("status", "string"),
			},
			"responses": map[string]any{
				"200": map[string]any{"description": "Invocations, newest first"},
				"400": map[string]any{"description": "Bad request"},
				"403": map[string]any{"description": "Insufficient scope"},
			},
			"security": bearerSecurity(),
		},
	}
	paths["/v1/invocations/{id}"] = map[string]any{
		"get": map[string]any{
			"operationId": "invocations__get",
			"summary":     "Get one invocation",
			"tags":        []string{"invocations"},
			"parameters": []any{map[string]any{
				"name":     "id",
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			}},
			"responses": map[string]any{
				"200": map[string]any{"description": "Invocation"},
				"404": map[string]any{"description": "Not found"},
			},
			"security": bearerSecurity(),
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "aibridge",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// capabilityOperation builds the POST operation for a single capability.
func capabilityOperation(name capability.Name) map[string]any {
	return map[string]any{
		"operationId": fmt.Sprintf("capability__%s", name),
		"summary":     fmt.Sprintf("Run the %s capability", name),
		"tags":        []string{"capabilities"},
		"requestBody": map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"type": "object"},
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{"description": "Capability result"},
			"400": map[string]any{"description": "Invalid input or unsupported file type"},
			"403": map[string]any{"description": "Insufficient scope"},
			"429": map[string]any{"description": "Too many concurrent requests"},
			"502": map[string]any{"description": "Script failed"},
			"504": map[string]any{"description": "Script timed out"},
		},
		"security": bearerSecurity(),
	}
}

func queryParam(name, typ string) map[string]any {
	return map[string]any{
		"name":   name,
		"in":     "query",
		"schema": map[string]any{"type": typ},
	}
}

func bearerSecurity() []any {
	return []any{map[string]any{"BearerAuth": []string{}}}
}
