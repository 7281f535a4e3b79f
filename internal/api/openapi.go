package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/velox/internal/protocol"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering every registered operation.
func buildOpenAPIDoc(schemas map[string]protocol.Schema) map[string]any {
	paths := map[string]any{}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		capability, op, ok := strings.Cut(name, ".")
		if !ok {
			continue
		}
		paths[fmt.Sprintf("/call/%s/%s", capability, op)] = map[string]any{
			"post": buildOperation(capability, op, schemas[name]),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Velox Bridge",
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

func buildOperation(capability, op string, schema protocol.Schema) map[string]any {
	items := make([]any, 0, len(schema))
	required := 0
	for _, a := range schema {
		item := argSchema(a.Kind)
		item["title"] = a.Name
		items = append(items, item)
		if !a.Optional {
			required++
		}
	}

	return map[string]any{
		"operationId": fmt.Sprintf("%s__%s", capability, op),
		"summary":     fmt.Sprintf("%s: %s", capability, op),
		"tags":        []string{capability},
		"requestBody": map[string]any{
			"required": required > 0,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":         map[string]any{"type": "string"},
							"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
							"window":     map[string]any{"type": "string"},
							"args": map[string]any{
								"type":        "array",
								"prefixItems": items,
								"minItems":    required,
								"maxItems":    len(schema),
							},
						},
					},
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{"description": "Call result"},
			"400": map[string]any{"description": "Invalid arguments"},
			"403": map[string]any{"description": "Permission denied or insufficient scope"},
			"503": map[string]any{"description": "Overloaded or shutting down"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}

func argSchema(kind protocol.ArgKind) map[string]any {
	switch kind {
	case protocol.ArgString:
		return map[string]any{"type": "string"}
	case protocol.ArgBool:
		return map[string]any{"type": "boolean"}
	case protocol.ArgInt:
		return map[string]any{"type": "integer"}
	case protocol.ArgBytes:
		return map[string]any{"oneOf": []any{
			map[string]any{"type": "string", "contentEncoding": "base64"},
			map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 0, "maximum": 255}},
		}}
	default:
		return map[string]any{}
	}
}
