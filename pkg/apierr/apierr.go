// Package apierr writes error responses. Management and rate-limit errors
// use a JSON envelope ({"error":{"message","type","code"}}); the chat and
// agent routes answer with the bare message as plain text, which is what
// browser clients display.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Error types.
const (
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Error codes.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeUnauthenticated   = "unauthenticated"
	CodeInternalError     = "internal_error"
	CodeInvalidRequest    = "invalid_request"
)

// FallbackMessage is sent when an error carries no message of its own.
const FallbackMessage = "Oops, an error occured!"

type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the JSON error envelope with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteText writes msg as a plain-text body. An empty msg is replaced by
// FallbackMessage.
func WriteText(ctx *fasthttp.RequestCtx, status int, msg string) {
	if msg == "" {
		msg = FallbackMessage
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(msg)
}

// WriteError writes err as a 500 plain-text response.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	WriteText(ctx, fasthttp.StatusInternalServerError, msg)
}

// WriteUnauthorized writes the 401 "Unauthorized" plain-text response.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	WriteText(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
}

// WriteRateLimit writes a 429 with Retry-After: 60.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
