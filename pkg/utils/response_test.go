package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func setupResponseTestApp() *fiber.App {
	app := fiber.New()

	app.Get("/success", func(c *fiber.Ctx) error {
		return Success(c, fiber.StatusCreated, fiber.Map{"id": "123", "success": "ignored"})
	})

	app.Get("/error", func(c *fiber.Ctx) error {
		return Error(c, fiber.StatusBadRequest, "invalid input")
	})

	app.Get("/paginated", func(c *fiber.Ctx) error {
		return Paginated(c, "files", []string{"a", "b"}, 2, 20, 45)
	})

	return app
}

func performResponseTestRequest(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding %s response body: %v", path, err)
	}

	return resp.StatusCode, body
}

func TestSuccessMergesPayload(t *testing.T) {
	status, body := performResponseTestRequest(t, setupResponseTestApp(), "/success")

	if status != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, status)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body["success"])
	}
	if body["id"] != "123" {
		t.Fatalf("expected id to be merged into the envelope, got %v", body["id"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	status, body := performResponseTestRequest(t, setupResponseTestApp(), "/error")

	if status != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, status)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if body["error"] != "Bad Request" {
		t.Fatalf("expected error %q, got %v", "Bad Request", body["error"])
	}
	if body["message"] != "invalid input" {
		t.Fatalf("expected message %q, got %v", "invalid input", body["message"])
	}
}

func TestPaginatedEnvelope(t *testing.T) {
	_, body := performResponseTestRequest(t, setupResponseTestApp(), "/paginated")

	items, ok := body["files"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 files, got %v", body["files"])
	}
	pagination := body["pagination"].(map[string]any)
	if pagination["totalPages"].(float64) != 3 {
		t.Fatalf("expected 3 total pages, got %v", pagination["totalPages"])
	}
}
