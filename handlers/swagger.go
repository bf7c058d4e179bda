package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth backend.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>impala-auth Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "impala-auth", "version": "v1.0.0" },
  "components": {
    "schemas": {
      "Tokens": {"type":"object","properties":{"access_token":{"type":"string"},"refresh_token":{"type":"string"},"expires_at":{"type":"integer"},"expires_in":{"type":"integer"},"session_id":{"type":"string"}}},
      "Message": {"type":"object","properties":{"success":{"type":"boolean"},"message":{"type":"string"}}}
    }
  },
  "paths": {
    "/auth/register": {
      "post": { "summary": "Create an account", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"name":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "201": { "description": "created" }, "409": { "description": "email taken" } } }
    },
    "/auth/login": {
      "post": {
        "summary": "Log in with email and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "user and tokens under data" }, "401": { "description": "invalid credentials", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Message"}}} } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate the refresh token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"},"session_id":{"type":"string"}}}}}}, "responses": { "200": { "description": "new bundle under data", "content": { "application/json": { "schema": {"type":"object","properties":{"data":{"$ref":"#/components/schemas/Tokens"}}}}} }, "401": { "description": "invalid or expired refresh token" }, "429": { "description": "too many refresh attempts" } } }
    },
    "/auth/logout": {
      "post": { "summary": "End the session", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"},"session_id":{"type":"string"},"logout_reason":{"type":"string"},"logout_all":{"type":"boolean"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/validate": {
      "get": { "summary": "Check the bearer token", "responses": { "200": { "description": "valid" }, "401": { "description": "invalid" } } }
    },
    "/auth/forgot-password": {
      "post": { "summary": "Send a password reset link", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"reset_url":{"type":"string"}}}}}}, "responses": { "200": { "description": "accepted" } } }
    },
    "/auth/reset-password": {
      "post": { "summary": "Set a new password with a reset token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"token":{"type":"string"},"email":{"type":"string"},"newPassword":{"type":"string"},"confirmPassword":{"type":"string"}}}}}}, "responses": { "200": { "description": "password changed" }, "400": { "description": "invalid token or mismatch" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Current user; may carry new_tokens when the access token is about to expire", "responses": { "200": { "description": "user" }, "401": { "description": "unauthorized" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
