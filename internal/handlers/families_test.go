package handlers

import (
	"net/http"
	"testing"

	"github.com/hourse/backend/internal/models"
)

func TestFamilyLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "owner@test.com", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "member@test.com", models.UserRoleUser)
	_, outsiderToken := createTestUser(t, env.db, "outsider@test.com", models.UserRoleUser)

	familyID := createTestFamily(t, env, ownerToken, member)

	resp := performRequest(t, env.app, http.MethodGet, "/api/families", nil, authHeaders(memberToken))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if len(body["families"].([]any)) != 1 {
		t.Fatalf("expected member to see 1 family, got %v", body["families"])
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/families/"+familyID, nil, authHeaders(ownerToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	family := mustMap(t, body["family"], "family")
	if len(family["members"].([]any)) != 2 {
		t.Fatalf("expected 2 members, got %v", family["members"])
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/families/"+familyID, nil, authHeaders(outsiderToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, body, "Forbidden")

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/families/"+familyID, map[string]any{"name": "Renamed"}, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/families/"+familyID, map[string]any{"name": "Renamed"}, authHeaders(ownerToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if mustMap(t, body["family"], "family")["name"] != "Renamed" {
		t.Fatalf("expected renamed family, got %v", body["family"])
	}

	resp = performRequest(t, env.app, http.MethodDelete, "/api/families/"+familyID, nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodDelete, "/api/families/"+familyID, nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/families", nil, authHeaders(memberToken))
	body = decodeJSONMap(t, resp)
	if len(body["families"].([]any)) != 0 {
		t.Fatalf("expected no families after delete, got %v", body["families"])
	}
}

func TestFamilyMembers(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner@test.com", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "member@test.com", models.UserRoleUser)
	createTestUser(t, env.db, "byemail@test.com", models.UserRoleUser)

	familyID := createTestFamily(t, env, ownerToken, member)
	membersPath := "/api/families/" + familyID + "/members"

	resp := performJSONRequest(t, env.app, http.MethodPost, membersPath, map[string]any{"userId": member.ID.String()}, authHeaders(ownerToken))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusConflict)
	assertEnvelopeError(t, body, "Conflict")

	resp = performJSONRequest(t, env.app, http.MethodPost, membersPath, map[string]any{"email": "BYEMAIL@test.com"}, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performJSONRequest(t, env.app, http.MethodPost, membersPath, map[string]any{"email": "BYEMAIL@test.com"}, authHeaders(ownerToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusCreated)
	added := mustMap(t, body["member"], "member")
	if added["role"] != string(models.FamilyRoleMember) {
		t.Fatalf("expected default member role, got %v", added["role"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPost, membersPath, map[string]any{"email": "nobody@test.com"}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = performJSONRequest(t, env.app, http.MethodPost, membersPath, map[string]any{"email": "not-an-email"}, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = performJSONRequest(t, env.app, http.MethodPut, membersPath+"/"+member.ID.String(), map[string]any{"role": "admin"}, authHeaders(ownerToken))
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if mustMap(t, body["member"], "member")["role"] != string(models.FamilyRoleAdmin) {
		t.Fatalf("expected promoted member, got %v", body["member"])
	}

	resp = performJSONRequest(t, env.app, http.MethodPut, membersPath+"/"+owner.ID.String(), map[string]any{"role": "member"}, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodDelete, membersPath+"/"+owner.ID.String(), nil, authHeaders(ownerToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodDelete, membersPath+"/"+member.ID.String(), nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = performRequest(t, env.app, http.MethodGet, "/api/families/"+familyID, nil, authHeaders(memberToken))
	assertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}
