package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/state"
)

type fakeVerifier struct {
	labels   []model.Label
	evidence []string
	claims   []string
	deadline bool
}

func (f *fakeVerifier) Verify(ctx context.Context, claim string) (*model.Result, *state.Run) {
	f.claims = append(f.claims, claim)
	_, f.deadline = ctx.Deadline()

	run := state.New("run-1", claim)
	run.Record("tool:search", "ok", "t1 1 rows")
	for i, text := range f.evidence {
		id := "wiki:t1:r" + string(rune('1'+i))
		run.AddEvidence(model.EvidenceItem{ID: id, ClaimID: "s1", Text: text, Source: model.SourceWiki})
		run.Selected = append(run.Selected, model.Selection{EvidenceID: id, ClaimID: "s1"})
	}

	verdicts := make([]model.ComposedVerdict, 0, len(f.labels))
	for i, l := range f.labels {
		verdicts = append(verdicts, model.ComposedVerdict{
			ClaimID:    "s" + string(rune('1'+i)),
			Label:      l,
			Confidence: model.ConfidenceMed,
		})
	}
	return model.NewResult(verdicts), run
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := New(&fakeVerifier{}, model.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestVerify_Decision(t *testing.T) {
	tests := []struct {
		name   string
		labels []model.Label
		want   string
	}{
		{"supported", []model.Label{model.LabelSupported}, DecisionSupport},
		{"refuted wins", []model.Label{model.LabelSupported, model.LabelRefuted}, DecisionRefute},
		{"mixed only", []model.Label{model.LabelMixed}, DecisionNEI},
		{"insufficient", []model.Label{model.LabelInsufficient}, DecisionNEI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&fakeVerifier{labels: tt.labels}, model.ServerConfig{})
			rec := post(t, srv.Routes(), `{"claim":"Paris is the capital of France"}`)

			require.Equal(t, http.StatusOK, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, tt.want, out["decision"])
			assert.NotContains(t, out, "explanation")
			assert.NotContains(t, out, "trace")
			assert.Contains(t, out, "result")
		})
	}
}

func TestVerify_ExplainAndTrace(t *testing.T) {
	v := &fakeVerifier{
		labels:   []model.Label{model.LabelSupported},
		evidence: []string{"Paris is the capital of France.", "It lies on the Seine."},
	}
	srv := New(v, model.ServerConfig{})
	rec := post(t, srv.Routes(), `{"claim":"Paris is the capital of France","explain":true,"trace":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, `SUPPORT. Evidence: "Paris is the capital of France." "It lies on the Seine."`, resp.Explanation)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "tool:search", resp.Trace[0].Name)
	require.Len(t, resp.Result.Data.Verdicts, 1)
}

func TestVerify_RejectsBadRequests(t *testing.T) {
	v := &fakeVerifier{}
	h := New(v, model.ServerConfig{}).Routes()

	for _, body := range []string{`not json`, `{"claim":"  a "}`, `{}`} {
		rec := post(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, decode(t, rec), "error")
	}
	assert.Empty(t, v.claims)
}

func TestVerify_TrimsClaimAndAppliesTimeout(t *testing.T) {
	v := &fakeVerifier{}
	h := New(v, model.ServerConfig{RequestTimeout: 5}).Routes()

	rec := post(t, h, `{"claim":"  water boils at 100C  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"water boils at 100C"}, v.claims)
	assert.True(t, v.deadline)
}

func TestExplain(t *testing.T) {
	assert.Equal(t, "NOT ENOUGH INFO. Evidence is insufficient.", Explain(DecisionNEI, nil))

	run := state.New("r", "c")
	for i := range 7 {
		id := "wiki:t1:r" + string(rune('a'+i))
		run.AddEvidence(model.EvidenceItem{ID: id, Text: "fact " + string(rune('a'+i)), Source: model.SourceWiki})
		run.Selected = append(run.Selected, model.Selection{EvidenceID: id, ClaimID: "s1"})
	}
	got := Explain(DecisionSupport, run)
	assert.Equal(t, 5, strings.Count(got, `"`)/2)
	assert.NotContains(t, got, "fact f")
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv := New(&fakeVerifier{}, model.ServerConfig{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
