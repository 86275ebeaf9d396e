// Package docs holds the Swagger document served under /swagger/.
// Regenerate with: swag init -g pkg/api/docs.go -o pkg/api/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/goran-ethernal/StarkIndexor"
        },
        "license": {
            "name": "Apache 2.0",
            "url": "https://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Check the health status of the API and all configured indexers",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "API and indexer health status", "schema": {"$ref": "#/definitions/api.HealthResponse"}}
                }
            }
        },
        "/indexers": {
            "get": {
                "description": "Get every configured indexer with its projection tables and available endpoints",
                "produces": ["application/json"],
                "tags": ["Indexers"],
                "summary": "List all indexers",
                "responses": {
                    "200": {"description": "List of indexers", "schema": {"type": "array", "items": {"$ref": "#/definitions/api.IndexerInfo"}}}
                }
            }
        },
        "/indexers/{name}/status": {
            "get": {
                "description": "Committed cursor, finality and runner state of an indexer",
                "produces": ["application/json"],
                "tags": ["Indexers"],
                "summary": "Get indexer status",
                "parameters": [
                    {"type": "string", "description": "Indexer name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Indexer status", "schema": {"$ref": "#/definitions/indexer.Status"}},
                    "404": {"description": "Indexer not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/indexers/{name}/entities": {
            "get": {
                "description": "Current state of the indexer's entities ordered by id, optionally filtered by owner",
                "produces": ["application/json"],
                "tags": ["Entities"],
                "summary": "List entities",
                "parameters": [
                    {"type": "string", "description": "Indexer name", "name": "name", "in": "path", "required": true},
                    {"type": "integer", "default": 100, "description": "Maximum number of entities to return", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Number of entities to skip", "name": "offset", "in": "query"},
                    {"type": "string", "description": "Owner address (hex)", "name": "owner", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Entities with pagination info", "schema": {"$ref": "#/definitions/api.EntityResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Indexer not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/indexers/{name}/entities/{id}": {
            "get": {
                "description": "Current state of one entity",
                "produces": ["application/json"],
                "tags": ["Entities"],
                "summary": "Get entity",
                "parameters": [
                    {"type": "string", "description": "Indexer name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Entity id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Entity", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Indexer or entity not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/indexers/{name}/entities/{id}/history/{table}": {
            "get": {
                "description": "History rows of one entity from a history table, in emission order",
                "produces": ["application/json"],
                "tags": ["Entities"],
                "summary": "Get entity history",
                "parameters": [
                    {"type": "string", "description": "Indexer name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Entity id", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "History table", "name": "table", "in": "path", "required": true},
                    {"type": "integer", "default": 100, "description": "Maximum number of rows to return", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Number of rows to skip", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "History rows with pagination info", "schema": {"$ref": "#/definitions/api.HistoryResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Indexer or table not found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.EntityResponse": {
            "type": "object",
            "properties": {
                "entities": {"type": "array", "items": {"type": "object", "additionalProperties": true}},
                "pagination": {"$ref": "#/definitions/api.PaginationResult"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "api.HealthResponse": {
            "type": "object",
            "properties": {
                "indexers": {"type": "array", "items": {"$ref": "#/definitions/api.IndexerHealth"}},
                "status": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "api.HistoryResponse": {
            "type": "object",
            "properties": {
                "entity_id": {"type": "string"},
                "pagination": {"$ref": "#/definitions/api.PaginationResult"},
                "rows": {"type": "array", "items": {"type": "object", "additionalProperties": true}},
                "table": {"type": "string"}
            }
        },
        "api.IndexerHealth": {
            "type": "object",
            "properties": {
                "healthy": {"type": "boolean"},
                "latest_block": {"type": "integer"},
                "name": {"type": "string"},
                "state": {"type": "string"},
                "type": {"type": "string"}
            }
        },
        "api.IndexerInfo": {
            "type": "object",
            "properties": {
                "endpoints": {"type": "array", "items": {"type": "string"}},
                "entity_table": {"type": "string"},
                "name": {"type": "string"},
                "tables": {"type": "array", "items": {"$ref": "#/definitions/api.TableInfo"}},
                "type": {"type": "string"}
            }
        },
        "api.PaginationResult": {
            "type": "object",
            "properties": {
                "has_more": {"type": "boolean"},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "api.TableInfo": {
            "type": "object",
            "properties": {
                "columns": {"type": "array", "items": {"type": "string"}},
                "id_column": {"type": "string"},
                "kind": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "indexer.Status": {
            "type": "object",
            "properties": {
                "batches_applied": {"type": "integer"},
                "cursor": {"type": "object", "properties": {"order_key": {"type": "integer"}, "unique_key": {"type": "string"}}},
                "finality": {"type": "string"},
                "last_error": {"type": "string"},
                "name": {"type": "string"},
                "rollbacks": {"type": "integer"},
                "state": {"type": "string"},
                "storage_driver": {"type": "string"},
                "type": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "StarkIndexor API",
	Description:      "REST API for querying Starknet projections indexed by StarkIndexor",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
