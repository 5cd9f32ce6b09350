package handlers

import (
	"bytes"
	"image/color"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/hourse/backend/internal/models"
	"github.com/spf13/afero"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(width, height, color.NRGBA{R: 200, G: 120, B: 40, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("failed encoding png: %v", err)
	}
	return buf.Bytes()
}

func uploadTestFile(t *testing.T, env *testEnv, token, name string, content []byte, fields map[string]string) map[string]any {
	t.Helper()
	resp := performMultipartRequest(t, env.app, "/api/storage/upload", name, content, fields, authHeaders(token))
	body := decodeJSONMap(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload failed with %d: %v", resp.StatusCode, body)
	}
	return mustMap(t, body["file"], "file")
}

func TestUploadListAndDownload(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@test.com", models.UserRoleUser)

	file := uploadTestFile(t, env, token, "hello.txt", []byte("hello hourse"), nil)
	fileID := file["id"].(string)
	if file["mimeType"] != "text/plain" {
		t.Fatalf("expected text/plain, got %v", file["mimeType"])
	}

	resp := performRequest(t, env.app, http.MethodGet, "/api/storage/files", nil, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	files := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	pagination := mustMap(t, body["pagination"], "pagination")
	if pagination["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", pagination["total"])
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID+"/download", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(raw) != "hello hourse" {
		t.Fatalf("unexpected download body %q", string(raw))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "hello.txt") {
		t.Fatalf("expected attachment header, got %q", resp.Header.Get("Content-Disposition"))
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID+"/url", nil, authHeaders(token))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if url, _ := body["url"].(string); !strings.HasPrefix(url, "/uploads/") {
		t.Fatalf("expected local url, got %v", body["url"])
	}
}

func TestUploadImageWithThumbnail(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "photos@test.com", models.UserRoleUser)

	file := uploadTestFile(t, env, token, "sunset.png", encodeTestPNG(t, 800, 400), map[string]string{
		"thumbnail": "true",
		"compress":  "true",
	})

	thumbPath, _ := file["thumbnailPath"].(string)
	if thumbPath == "" {
		t.Fatalf("expected thumbnail path, got %v", file)
	}
	thumb, err := afero.ReadFile(env.blobs, thumbPath)
	if err != nil {
		t.Fatalf("thumbnail missing from storage: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("failed decoding thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 300 {
		t.Fatalf("expected 300x300 thumbnail, got %v", img.Bounds())
	}

	if exists, _ := afero.Exists(env.blobs, file["storagePath"].(string)); !exists {
		t.Fatal("expected full-size asset in storage")
	}
}

func TestToggleFavoriteAndShareTwice(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "toggle@test.com", models.UserRoleUser)
	fileID := uploadTestFile(t, env, token, "a.txt", []byte("a"), nil)["id"].(string)

	for i, expected := range []bool{true, false} {
		resp := performRequest(t, env.app, http.MethodPatch, "/api/storage/files/"+fileID+"/favorite", nil, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if body["isFavorite"] != expected {
			t.Fatalf("favorite call %d: expected %v, got %v", i+1, expected, body["isFavorite"])
		}
	}

	for i, expected := range []bool{true, false} {
		resp := performRequest(t, env.app, http.MethodPatch, "/api/storage/files/"+fileID+"/share", nil, authHeaders(token))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if body["isShared"] != expected {
			t.Fatalf("share call %d: expected %v, got %v", i+1, expected, body["isShared"])
		}
	}
}

func TestFolderMoveAndDelete(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "folders@test.com", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/storage/folders", map[string]any{"name": "Docs"}, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	folder := mustMap(t, decodeJSONMap(t, resp)["file"], "file")
	folderID := folder["id"].(string)
	if folder["mimeType"] != models.FolderMimeType {
		t.Fatalf("expected folder mime type, got %v", folder["mimeType"])
	}

	fileID := uploadTestFile(t, env, token, "b.txt", []byte("b"), nil)["id"].(string)

	resp = performJSONRequest(t, env.app, http.MethodPatch, "/api/storage/files/"+fileID, map[string]any{"parentId": folderID, "name": "renamed.txt"}, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	moved := mustMap(t, body["file"], "file")
	if moved["parentId"] != folderID || moved["name"] != "renamed.txt" {
		t.Fatalf("unexpected moved file %v", moved)
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/storage/files/"+folderID, map[string]any{"parentId": folderID}, authHeaders(token))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, body, "Bad Request")

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files?parentId="+folderID, nil, authHeaders(token))
	body = decodeJSONMap(t, resp)
	if len(body["files"].([]any)) != 1 {
		t.Fatalf("expected 1 child, got %v", body["files"])
	}

	resp = performRequest(t, env.app, http.MethodDelete, "/api/storage/files/"+folderID, nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID, nil, authHeaders(token))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusNotFound)
	assertEnvelopeError(t, body, "Not Found")
}

func TestFileAccessAcrossFamilies(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "owner@test.com", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "member@test.com", models.UserRoleUser)
	_, outsiderToken := createTestUser(t, env.db, "outsider@test.com", models.UserRoleUser)
	familyID := createTestFamily(t, env, ownerToken, member)

	fileID := uploadTestFile(t, env, ownerToken, "plan.txt", []byte("plan"), map[string]string{"familyId": familyID})["id"].(string)

	resp := performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID, nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodPatch, "/api/storage/files/"+fileID+"/share", nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID, nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files?shared=true", nil, authHeaders(memberToken))
	body := decodeJSONMap(t, resp)
	if len(body["files"].([]any)) != 1 {
		t.Fatalf("expected shared file in member listing, got %v", body["files"])
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/storage/files/"+fileID, nil, authHeaders(outsiderToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, body, "Forbidden")

	resp = performRequest(t, env.app, http.MethodDelete, "/api/storage/files/"+fileID, nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performMultipartRequest(t, env.app, "/api/storage/upload", "x.txt", []byte("x"), map[string]string{"familyId": familyID}, authHeaders(outsiderToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestStatsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "stats@test.com", models.UserRoleUser)

	uploadTestFile(t, env, token, "a.txt", []byte("abc"), nil)
	uploadTestFile(t, env, token, "b.png", encodeTestPNG(t, 10, 10), nil)

	resp := performRequest(t, env.app, http.MethodGet, "/api/storage/stats", nil, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)

	stats := mustMap(t, body["stats"], "stats")
	if stats["totalFiles"] != float64(2) {
		t.Fatalf("expected 2 files, got %v", stats["totalFiles"])
	}
	byType := mustMap(t, stats["byType"], "byType")
	if byType["image"] != float64(1) {
		t.Fatalf("expected 1 image, got %v", byType["image"])
	}
}

func TestUploadRequiresFile(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "nofile@test.com", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/storage/upload", map[string]any{"name": "x"}, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusBadRequest)
	if body["message"] != "file is required" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}
