package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/database"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/internal/storage"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

const testBrandingPath = "/data/branding.json"

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	blobs    afero.Fs
	settings afero.Fs
	branding *services.BrandingService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	blobs := afero.NewMemMapFs()
	settingsFs := afero.NewMemMapFs()
	backend := storage.NewLocalBackendFs(blobs, "/uploads")
	media := services.NewMediaService(config.MediaConfig{})

	access := services.NewAccessService(db)
	settingsStore := services.NewSettingsStore(db)
	branding := services.NewBrandingService(settingsStore, settingsFs, testBrandingPath, backend, media)
	chat := services.NewChatService(db, access, 3, []time.Duration{time.Millisecond})

	h := &Handlers{
		Files:    NewFilesHandler(services.NewFileService(db, backend, media, access)),
		Settings: NewSettingsHandler(branding, services.NewIntegrationsService(settingsStore)),
		Families: NewFamiliesHandler(services.NewFamilyService(db, access)),
		Chat:     NewChatHandler(chat),
		Users:    NewUsersHandler(db),
	}

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("*"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	RegisterRoutes(app.Group("/api"), h, middleware.NewAuthMiddleware(db))

	return &testEnv{app: app, db: db, blobs: blobs, settings: settingsFs, branding: branding}
}

func createTestUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) (*models.User, string) {
	t.Helper()

	user := &models.User{
		Email:       email,
		DisplayName: "Test User",
		Role:        role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// performMultipartRequest posts content as the "file" part plus fields.
func performMultipartRequest(t *testing.T, app *fiber.App, path, filename string, content []byte, fields map[string]string, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	requestHeaders := map[string]string{"Content-Type": writer.FormDataContentType()}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	return performRequest(t, app, http.MethodPost, path, &buf, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func mustMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be an object, got %T", field, value)
	}
	return m
}

// createTestFamily creates a family through the API and adds members.
func createTestFamily(t *testing.T, env *testEnv, ownerToken string, members ...*models.User) string {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/families", map[string]any{"name": "The Testers"}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusCreated)
	familyID := mustMap(t, decodeJSONMap(t, resp)["family"], "family")["id"].(string)

	for _, member := range members {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/families/"+familyID+"/members", map[string]any{
			"userId": member.ID.String(),
		}, authHeaders(ownerToken))
		assertStatus(t, resp, http.StatusCreated)
	}
	return familyID
}
