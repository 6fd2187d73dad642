package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/civictriage/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

const auditBodyLimit = 2000

// AuditLog writes one structured log line per officer write request
// (POST/PUT/PATCH/DELETE). Must run after AuthRequired.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil && !strings.HasPrefix(c.ContentType(), "multipart/") {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = string(bodyBytes)
			if len(bodySnippet) > auditBodyLimit {
				bodySnippet = bodySnippet[:auditBodyLimit] + "...[truncated]"
			}
			bodySnippet = maskSensitiveFields(bodySnippet)
		}

		c.Next()

		status := c.Writer.Status()
		resource, action := parseRouteInfo(c.FullPath(), method)

		event := logger.Info()
		if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("officer_id", GetOfficerID(c)).
			Str("officer_name", GetOfficerName(c)).
			Str("resource", resource).
			Str("action", action).
			Str("method", method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Str("body", bodySnippet).
			Msg("[Audit] officer request")
	}
}

// parseRouteInfo extracts resource and action from a Gin route pattern.
// e.g. "/api/issues/:id/correct" + "POST" gives resource="issues", action="correct".
func parseRouteInfo(fullPath, method string) (resource, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	parts := strings.Split(path, "/")

	resource = parts[0]
	if resource == "" {
		resource = "unknown"
	}

	// trailing literal segment names the action, e.g. /issues/:id/accept
	if last := parts[len(parts)-1]; len(parts) > 1 && !strings.HasPrefix(last, ":") {
		return resource, last
	}

	switch method {
	case "POST":
		action = "create"
	case "PUT", "PATCH":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return resource, action
}

// maskSensitiveFields replaces sensitive values in a JSON body.
func maskSensitiveFields(body string) string {
	sensitiveKeys := []string{"password", "api_key", "secret", "token", "contact_phone", "contact_email"}
	lower := strings.ToLower(body)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			body = maskJSONValue(body, key)
		}
	}
	return body
}

// maskJSONValue does a best-effort mask of the JSON string value for key.
func maskJSONValue(body, key string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(body) {
		return body
	}

	if body[valueStart] == '"' {
		endQuote := strings.Index(body[valueStart+1:], "\"")
		if endQuote == -1 {
			return body
		}
		return body[:valueStart+1] + "***" + body[valueStart+1+endQuote:]
	}
	return body
}
