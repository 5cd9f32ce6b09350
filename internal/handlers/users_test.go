package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
)

func TestMeAndUpdateProfile(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "me@test.com", models.UserRoleUser)

	resp := performRequest(t, env.app, http.MethodGet, "/api/users/me", nil, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if mustMap(t, body["user"], "user")["id"] != user.ID.String() {
		t.Fatalf("expected current user, got %v", body["user"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/users/me", map[string]any{
		"displayName": "Grandma",
		"avatarUrl":   "https://cdn.test/a.png",
	}, authHeaders(token))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	updated := mustMap(t, body["user"], "user")
	if updated["displayName"] != "Grandma" || updated["avatarUrl"] != "https://cdn.test/a.png" {
		t.Fatalf("unexpected updated user %v", updated)
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/users/me", map[string]any{"displayName": "   "}, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/users/me", map[string]any{}, authHeaders(token))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusBadRequest)
	if body["message"] != "no valid fields to update" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestUserSearch(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "alice@test.com", models.UserRoleUser)
	createTestUser(t, env.db, "bob@test.com", models.UserRoleUser)

	resp := performRequest(t, env.app, http.MethodGet, "/api/users/search?search=BOB", nil, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	users := body["users"].([]any)
	if len(users) != 1 || mustMap(t, users[0], "user")["email"] != "bob@test.com" {
		t.Fatalf("expected to find bob, got %v", users)
	}
}

func TestAdminUserManagement(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin@test.com", models.UserRoleAdmin)
	_, userToken := createTestUser(t, env.db, "user@test.com", models.UserRoleUser)

	resp := performRequest(t, env.app, http.MethodGet, "/api/users", nil, authHeaders(userToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	presetID := uuid.NewString()
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/users", map[string]any{
		"id":          presetID,
		"email":       "New.Person@Test.com",
		"displayName": "New Person",
	}, authHeaders(adminToken))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusCreated)
	created := mustMap(t, body["user"], "user")
	if created["id"] != presetID || created["email"] != "new.person@test.com" || created["role"] != "user" {
		t.Fatalf("unexpected created user %v", created)
	}

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/users", map[string]any{
		"email":       "new.person@test.com",
		"displayName": "Duplicate",
	}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/users?limit=2", nil, authHeaders(adminToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if mustMap(t, body["pagination"], "pagination")["total"] != float64(3) {
		t.Fatalf("expected 3 users in total, got %v", body["pagination"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/users/"+presetID, map[string]any{"role": "admin"}, authHeaders(adminToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if mustMap(t, body["user"], "user")["role"] != "admin" {
		t.Fatalf("expected promoted user, got %v", body["user"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/users/"+presetID, map[string]any{"role": "root"}, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodDelete, "/api/users/"+presetID, nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/users/"+presetID, nil, authHeaders(adminToken))
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
