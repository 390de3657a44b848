package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	app "github.com/TriMatrix-Network/matrix_layer/internal/app"
)

const testAuthToken = "test-token"

func newTestHandler(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	audit := NewAuditLog(50, nil)
	handler := NewHandler(application, audit)
	handler = WrapWithAuth(handler, []string{testAuthToken}, nil)
	handler = WrapWithAudit(handler, audit)
	return handler, application
}

func marshal(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func authedRequest(method, target string, body *bytes.Reader) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func do(t *testing.T, handler http.Handler, req *http.Request, wantStatus int) map[string]any {
	t.Helper()
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, wantStatus, resp.Code, "body: %s", resp.Body.String())
	if resp.Body.Len() == 0 {
		return nil
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &decoded))
	return decoded
}

func TestHandlerLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t)

	root := do(t, handler, authedRequest(http.MethodPost, "/members", marshal(t, map[string]any{
		"display_name": "Root",
	})), http.StatusCreated)
	rootID := root["ID"].(string)

	user := do(t, handler, authedRequest(http.MethodPost, "/members", marshal(t, map[string]any{
		"display_name": "User",
		"referrer":     root["ReferralCode"].(string),
	})), http.StatusCreated)
	userID := user["ID"].(string)
	require.Equal(t, rootID, user["ReferrerID"])

	joined := do(t, handler, authedRequest(http.MethodPost, "/members/"+userID+"/join", marshal(t, map[string]any{
		"referrer_id": rootID,
		"amount":      11.0,
	})), http.StatusOK)
	require.Equal(t, float64(1), joined["Level"])
	require.Equal(t, float64(0), joined["Position"])

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/members/"+rootID+"/trees", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var trees []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &trees))
	require.Len(t, trees, 1)
	require.Equal(t, float64(1), trees[0]["TotalMembers"])

	upgraded := do(t, handler, authedRequest(http.MethodPost, "/members/"+userID+"/upgrade", marshal(t, map[string]any{
		"from_slot": 1,
		"to_slot":   2,
		"amount":    33.0,
	})), http.StatusOK)
	require.Equal(t, float64(2), upgraded["ToSlot"])

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/members/"+rootID+"/commissions", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &records))
	require.NotEmpty(t, records)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/members/"+rootID+"/recycles?slot=1", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotZero(t, resp.Body.Len())

	entries := httptest.NewRecorder()
	handler.ServeHTTP(entries, authedRequest(http.MethodGet, "/audit?limit=5", nil))
	require.Equal(t, http.StatusOK, entries.Code)
	var audit []map[string]any
	require.NoError(t, json.Unmarshal(entries.Body.Bytes(), &audit))
	require.NotEmpty(t, audit)
}

func TestHandlerErrorMapping(t *testing.T) {
	handler, _ := newTestHandler(t)

	root := do(t, handler, authedRequest(http.MethodPost, "/members", marshal(t, map[string]any{
		"display_name": "Root",
	})), http.StatusCreated)
	rootID := root["ID"].(string)
	user := do(t, handler, authedRequest(http.MethodPost, "/members", marshal(t, map[string]any{
		"display_name": "User",
		"referrer":     rootID,
	})), http.StatusCreated)
	userID := user["ID"].(string)

	// Wrong join amount.
	do(t, handler, authedRequest(http.MethodPost, "/members/"+userID+"/join", marshal(t, map[string]any{
		"referrer_id": rootID,
		"amount":      5.0,
	})), http.StatusBadRequest)

	// Unknown member.
	do(t, handler, authedRequest(http.MethodPost, "/members/ghost/join", marshal(t, map[string]any{
		"referrer_id": rootID,
		"amount":      11.0,
	})), http.StatusNotFound)

	// Duplicate join.
	do(t, handler, authedRequest(http.MethodPost, "/members/"+userID+"/join", marshal(t, map[string]any{
		"referrer_id": rootID,
		"amount":      11.0,
	})), http.StatusOK)
	do(t, handler, authedRequest(http.MethodPost, "/members/"+userID+"/join", marshal(t, map[string]any{
		"referrer_id": rootID,
		"amount":      11.0,
	})), http.StatusConflict)

	// Unknown payload fields are rejected.
	do(t, handler, authedRequest(http.MethodPost, "/members", marshal(t, map[string]any{
		"display_name": "X",
		"bogus":        true,
	})), http.StatusBadRequest)
}

func TestHandlerAuth(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/members", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/members", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
