package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-io/lodestar/internal/health"
	"github.com/lodestar-io/lodestar/internal/rescore"
	"github.com/lodestar-io/lodestar/internal/testutil"
	"github.com/lodestar-io/lodestar/internal/workspace"
)

const (
	ws1Key = "key-ws1"
	ws2Key = "key-ws2"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ev, dec, ws, alerts := testutil.NewTestStores(t)
	rescorer := rescore.NewService(ev, dec, ws)
	monitor := health.NewMonitor(dec, ev)

	srv := NewServer(ev, dec, ws, rescorer,
		map[string]string{ws1Key: "ws1", ws2Key: "ws2"},
		WithHealth(monitor, alerts),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// do issues a request with the given API key and decodes the JSON response
// into a generic map.
func do(t *testing.T, ts *httptest.Server, method, path, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-Lodestar-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func captureEvidence(t *testing.T, ts *httptest.Server, key string, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	status, got := do(t, ts, http.MethodPost, "/v1/evidence", key, body)
	require.Equal(t, http.StatusCreated, status, "capture: %v", got)
	return got
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodGet, "/v1/evidence", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = do(t, ts, http.MethodGet, "/v1/evidence", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Health and gate reference stay open.
	status, body = do(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestBearerTokenAccepted(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/evidence", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ws1Key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvidenceCaptureFlow(t *testing.T) {
	ts := newTestServer(t)

	created := captureEvidence(t, ts, ws1Key, map[string]interface{}{
		"title":           "Churned customer cited missing export",
		"content":         `They said <script>alert("x")</script> the CSV export gap blocked rollout`,
		"source_category": "interview",
		"tags":            []string{"export"},
	})
	id := created["id"].(string)
	assert.Equal(t, "ws1", created["workspace_id"])
	assert.NotContains(t, created["content"], "<script>")
	assert.Contains(t, created["content"], "the CSV export gap")

	// Scored on capture, never returned unscored.
	assert.Greater(t, created["computed_strength"].(float64), float64(0))
	assert.NotEmpty(t, created["band"])
	assert.NotEmpty(t, created["scored_at"])

	status, got := do(t, ts, http.MethodGet, "/v1/evidence/"+id, ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, got["id"])

	status, list := do(t, ts, http.MethodGet, "/v1/evidence?category=interview&tag=export", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), list["count"])

	status, list = do(t, ts, http.MethodGet, "/v1/evidence?category=survey", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), list["count"])
}

func TestEvidenceCaptureRejectsEmptyTitle(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/v1/evidence", ws1Key, map[string]interface{}{
		"title":           "<p></p>",
		"source_category": "chat",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestLinkFlow(t *testing.T) {
	ts := newTestServer(t)

	item := captureEvidence(t, ts, ws1Key, map[string]interface{}{
		"title":           "Five enterprise tickets about SSO",
		"source_category": "support-ticket",
	})
	evidenceID := item["id"].(string)

	status, d := do(t, ts, http.MethodPost, "/v1/decisions", ws1Key, map[string]interface{}{
		"title": "Build SAML SSO",
	})
	require.Equal(t, http.StatusCreated, status)
	decisionID := d["id"].(string)
	assert.Equal(t, "park", d["status"])
	assert.Equal(t, float64(0), d["evidence_count"])

	status, linked := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/links", ws1Key, map[string]interface{}{
		"evidence_id":          evidenceID,
		"segment_match_factor": 0.5,
		"relevance_note":       "same segment, adjacent ask",
	})
	require.Equal(t, http.StatusCreated, status, "link: %v", linked)
	assert.Equal(t, float64(1), linked["evidence_count"])
	expected := item["computed_strength"].(float64) * 0.5
	assert.InDelta(t, expected, linked["evidence_strength"].(float64), 1.0)

	status, dup := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/links", ws1Key, map[string]interface{}{
		"evidence_id": evidenceID,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_link", dup["error"])

	status, missing := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/links", ws1Key, map[string]interface{}{
		"evidence_id": "no-such-evidence",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", missing["error"])

	status, unlinked := do(t, ts, http.MethodDelete, "/v1/decisions/"+decisionID+"/links/"+evidenceID, ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), unlinked["evidence_count"])
	assert.Equal(t, float64(0), unlinked["evidence_strength"])
}

func TestStatusOverride(t *testing.T) {
	ts := newTestServer(t)

	status, d := do(t, ts, http.MethodPost, "/v1/decisions", ws1Key, map[string]interface{}{
		"title": "Ship dark mode",
	})
	require.Equal(t, http.StatusCreated, status)
	decisionID := d["id"].(string)

	// Committing against a park recommendation needs a reason.
	status, body := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/status", ws1Key, map[string]interface{}{
		"status": "commit",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "override_reason_required", body["error"])

	status, updated := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/status", ws1Key, map[string]interface{}{
		"status": "commit",
		"reason": "strategic bet for the Q4 launch",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "commit", updated["status"])
	assert.Equal(t, true, updated["is_overridden"])
	assert.Equal(t, "strategic bet for the Q4 launch", updated["override_reason"])

	// Reverting to the recommendation clears the override.
	status, reverted := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/status", ws1Key, map[string]interface{}{
		"status": "park",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, reverted["is_overridden"])

	status, _ = do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/status", ws1Key, map[string]interface{}{
		"status": "yolo",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGatesReference(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodGet, "/v1/gates", "", nil)
	require.Equal(t, http.StatusOK, status)

	bands := body["bands"].([]interface{})
	assert.Len(t, bands, 3)

	gates := body["gates"].(map[string]interface{})
	assert.Equal(t, float64(70), gates["commit"])
	assert.Equal(t, float64(40), gates["validate"])
}

func TestSettingsRoundtripAndImport(t *testing.T) {
	ts := newTestServer(t)

	status, got := do(t, ts, http.MethodGet, "/v1/workspace/settings", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "default", got["preset"])

	status, put := do(t, ts, http.MethodPut, "/v1/workspace/settings", ws1Key, map[string]interface{}{
		"preset": "support-led",
	})
	require.Equal(t, http.StatusOK, status, "put: %v", put)

	status, got = do(t, ts, http.MethodGet, "/v1/workspace/settings", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "support-led", got["preset"])

	yamlDoc := "preset: research-heavy\nweights:\n  interview: 0.95\n"
	status, imported := do(t, ts, http.MethodPost, "/v1/workspace/settings/import", ws1Key, yamlDoc)
	require.Equal(t, http.StatusOK, status, "import: %v", imported)
	assert.Equal(t, "research-heavy", imported["preset"])

	status, bad := do(t, ts, http.MethodPost, "/v1/workspace/settings/import", ws1Key, "weights:\n  chat: 1.5\n")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_settings", bad["error"])

	// The rejected import leaves the previous settings intact.
	status, got = do(t, ts, http.MethodGet, "/v1/workspace/settings", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "research-heavy", got["preset"])
}

func TestRescoreDryRun(t *testing.T) {
	ts := newTestServer(t)

	captureEvidence(t, ts, ws1Key, map[string]interface{}{
		"title":           "Analytics drop-off at step 3",
		"source_category": "product-analytics",
	})

	status, result := do(t, ts, http.MethodPost, "/v1/rescore", ws1Key, map[string]interface{}{
		"dry_run": true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, result["dry_run"])
	assert.Equal(t, float64(1), result["item_count"])
	assert.Equal(t, "ws1", result["workspace_id"])
}

func TestWorkspaceIsolation(t *testing.T) {
	ts := newTestServer(t)

	item := captureEvidence(t, ts, ws1Key, map[string]interface{}{
		"title":           "ws1 private note",
		"source_category": "chat",
	})
	id := item["id"].(string)

	status, _ := do(t, ts, http.MethodGet, "/v1/evidence/"+id, ws2Key, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, list := do(t, ts, http.MethodGet, "/v1/evidence", ws2Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), list["count"])

	status, d := do(t, ts, http.MethodPost, "/v1/decisions", ws1Key, map[string]interface{}{"title": "secret"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = do(t, ts, http.MethodDelete, "/v1/decisions/"+d["id"].(string), ws2Key, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEvidenceDeleteRefreshesDecisions(t *testing.T) {
	ts := newTestServer(t)

	item := captureEvidence(t, ts, ws1Key, map[string]interface{}{
		"title":           "Interview on onboarding friction",
		"source_category": "interview",
	})
	evidenceID := item["id"].(string)

	status, d := do(t, ts, http.MethodPost, "/v1/decisions", ws1Key, map[string]interface{}{"title": "Redo onboarding"})
	require.Equal(t, http.StatusCreated, status)
	decisionID := d["id"].(string)

	status, _ = do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/links", ws1Key, map[string]interface{}{
		"evidence_id": evidenceID,
	})
	require.Equal(t, http.StatusCreated, status)

	status, deleted := do(t, ts, http.MethodDelete, "/v1/evidence/"+evidenceID, ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), deleted["decisions_updated"])

	status, got := do(t, ts, http.MethodGet, "/v1/decisions/"+decisionID, ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), got["evidence_count"])
	assert.Equal(t, "park", got["gate_recommendation"])
}

func TestOutcomeRecording(t *testing.T) {
	ts := newTestServer(t)

	status, d := do(t, ts, http.MethodPost, "/v1/decisions", ws1Key, map[string]interface{}{"title": "Ship exports"})
	require.Equal(t, http.StatusCreated, status)
	decisionID := d["id"].(string)

	status, outcome := do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/outcomes", ws1Key, map[string]interface{}{
		"result": "partial",
		"notes":  "adoption below forecast",
	})
	require.Equal(t, http.StatusCreated, status, "outcome: %v", outcome)
	assert.Equal(t, "partial", outcome["result"])

	status, _ = do(t, ts, http.MethodPost, "/v1/decisions/"+decisionID+"/outcomes", ws1Key, map[string]interface{}{
		"result": "shrug",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, list := do(t, ts, http.MethodGet, "/v1/decisions/"+decisionID+"/outcomes", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), list["count"])
}

func TestHealthReportRunAndLatest(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodGet, "/v1/health-report", ws1Key, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, report := do(t, ts, http.MethodPost, "/v1/health-report/run", ws1Key, nil)
	require.Equal(t, http.StatusOK, status, "run: %v", report)
	assert.Equal(t, "ws1", report["workspace_id"])

	status, latest := do(t, ts, http.MethodGet, "/v1/health-report", ws1Key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ws1", latest["workspace_id"])
}

func TestCaptureRateLimit(t *testing.T) {
	ev, dec, ws, _ := testutil.NewTestStores(t)
	rescorer := rescore.NewService(ev, dec, ws)
	manager := workspace.NewManager(workspace.Limits{CaptureRPS: 0.001, CaptureBurst: 2}, nil)

	srv := NewServer(ev, dec, ws, rescorer,
		map[string]string{ws1Key: "ws1"},
		WithManager(manager),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	body := map[string]interface{}{"title": "t", "source_category": "chat"}
	for i := 0; i < 2; i++ {
		status, got := do(t, ts, http.MethodPost, "/v1/evidence", ws1Key, body)
		require.Equal(t, http.StatusCreated, status, "capture %d: %v", i, got)
	}
	status, limited := do(t, ts, http.MethodPost, "/v1/evidence", ws1Key, body)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limit_exceeded", limited["error"])

	// Reads stay unthrottled.
	status, _ = do(t, ts, http.MethodGet, "/v1/evidence", ws1Key, nil)
	assert.Equal(t, http.StatusOK, status)
}
