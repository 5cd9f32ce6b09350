package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// Probe and scrape endpoints are not request-logged.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// RequestID keeps a caller supplied id when it is short and printable and
// generates one otherwise.
func RequestID(incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || len(incoming) > 64 || strings.ContainsAny(incoming, " \t\r\n\"") {
		return logger.GenerateRequestID()
	}
	return incoming
}

// RequestLogger tags every request with an id, echoes it in X-Request-ID
// and writes one line per request.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := RequestID(c.Get(RequestIDHeader))
		c.Locals("requestID", requestID)
		c.Set(RequestIDHeader, requestID)

		if _, quiet := quietPaths[c.Path()]; quiet {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		status := responseStatus(c, err)

		details := map[string]interface{}{
			"method":        c.Method(),
			"path":          c.Path(),
			"route":         c.Route().Path,
			"status_code":   status,
			"latency_ms":    time.Since(start).Milliseconds(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"ip":            c.IP(),
			"request_body":  requestBodySummary(c),
			"response_body": logger.GetResponseSizeSummary(c),
			"request_id":    requestID,
		}

		userID := logger.GetUserIDFromContext(c)
		switch {
		case status >= fiber.StatusInternalServerError:
			if userID != nil {
				logger.ErrorWithUser(*userID, "http_request", err, details)
			} else {
				logger.Error("http_request", err, details)
			}
		case status >= fiber.StatusBadRequest:
			if err != nil {
				details["error"] = err.Error()
			}
			if userID != nil {
				logger.WarnWithUser(*userID, "http_request", details)
			} else {
				logger.Warn("http_request", details)
			}
		default:
			if userID != nil {
				logger.InfoWithUser(*userID, "http_request", details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}

// responseStatus accounts for errors that the app error handler has not yet
// written to the response.
func responseStatus(c *fiber.Ctx, err error) int {
	status := c.Response().StatusCode()
	if err == nil || status >= fiber.StatusBadRequest {
		return status
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// requestBodySummary keeps uploaded files out of log lines.
func requestBodySummary(c *fiber.Ctx) string {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return fmt.Sprintf("multipart (%d bytes)", c.Request().Header.ContentLength())
	}
	return logger.GetRequestBodySummary(c)
}

var securityReasons = map[int]string{
	fiber.StatusUnauthorized: "unauthenticated",
	fiber.StatusForbidden:    "access_denied",
	fiber.StatusNotFound:     "not_found",
}

// SecurityLogger records denied and unknown requests separately so they can
// be alerted on.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		reason, ok := securityReasons[responseStatus(c, err)]
		if !ok {
			return err
		}
		if _, quiet := quietPaths[c.Path()]; quiet {
			return err
		}

		userID := logger.GetUserIDFromContext(c)
		details := map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"ip":         c.IP(),
			"user_id":    userID,
			"reason":     reason,
			"request_id": c.Locals("requestID"),
		}

		switch {
		case userID != nil:
			logger.WarnWithUser(*userID, reason, details)
		case reason == "unauthenticated":
			logger.Warn(reason, details)
		default:
			logger.Warn(reason+"_unauthenticated", details)
		}
		return err
	}
}
