package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA ADP Content Archiver",
        "description": "Asynchronous zip exports of assignment submissions, ePortfolios and course folders",
        "version": "0.2.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "ContentExports", "description": "Content zipper jobs"}
    ],
    "paths": {
        "/content-exports": {
            "post": {
                "tags": ["ContentExports"],
                "summary": "Request a content export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ContentExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Context not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/{id}": {
            "get": {
                "tags": ["ContentExports"],
                "summary": "Content export status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/{id}/retry": {
            "post": {
                "tags": ["ContentExports"],
                "summary": "Retry an errored content export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Export is not errored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/{id}/download-url": {
            "get": {
                "tags": ["ContentExports"],
                "summary": "Signed download URL for a zipped export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Export not ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/download/{token}": {
            "get": {
                "tags": ["ContentExports"],
                "summary": "Download a zipped export via signed token",
                "produces": ["application/zip"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Archive", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/maintenance/recover": {
            "post": {
                "tags": ["ContentExports"],
                "summary": "Requeue pending content exports (admin)",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/content-exports/maintenance/cleanup": {
            "post": {
                "tags": ["ContentExports"],
                "summary": "Purge expired archives (admin)",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ContentExportRequest": {
            "type": "object",
            "required": ["contextType", "contextId"],
            "properties": {
                "contextType": {"type": "string", "enum": ["assignment", "eportfolio", "folder"]},
                "contextId": {"type": "string"},
                "manifest": {"type": "string", "enum": ["csv", "pdf"]}
            }
        },
        "ContentExportResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "contextType": {"type": "string"},
                "contextId": {"type": "string"},
                "workflowState": {"type": "string", "enum": ["pending", "zipping", "zipped", "errored"]},
                "progress": {"type": "integer"},
                "attempts": {"type": "integer"},
                "filename": {"type": "string"},
                "sizeBytes": {"type": "integer"},
                "checksum": {"type": "string"},
                "error": {"type": "string"},
                "createdAt": {"type": "string", "format": "date-time"},
                "finishedAt": {"type": "string", "format": "date-time"}
            }
        },
        "ContentExportDownloadURLResponse": {
            "type": "object",
            "properties": {
                "url": {"type": "string"},
                "expiresAt": {"type": "string", "format": "date-time"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
