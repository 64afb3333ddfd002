package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chadiek/checkin-demo/internal/assist"
	"github.com/chadiek/checkin-demo/internal/chat"
	"github.com/chadiek/checkin-demo/internal/wizard"
)

type stubExchanger struct{ reply string }

func (s stubExchanger) GenerateAnswer(_ context.Context, _ []assist.Message) (assist.ExchangeResult, error) {
	return assist.ExchangeResult{Kind: assist.ExchangeReply, Reply: s.reply}, nil
}

type stubTrigger struct{}

func (stubTrigger) Fire(_ context.Context, _ []chat.Turn, _ []string) (string, error) {
	return "summary", nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) ClassifyDocument(_ context.Context, _ string, _ []byte) (string, error) {
	return "referral letter", nil
}
func (stubAnalyzer) ExtractDocument(_ context.Context, _ string, _ []byte) (string, error) {
	return "referred to cardiology", nil
}

func testServer(t *testing.T, password string) *Server {
	t.Helper()
	reg := wizard.NewRegistry(wizard.Deps{
		Exchanger:       stubExchanger{reply: "Thanks!"},
		Trigger:         stubTrigger{},
		Analyzer:        stubAnalyzer{},
		Locale:          "en-US",
		CompletionToken: "boarding",
		ExchangeTimeout: time.Second,
	}, time.Hour)
	t.Cleanup(reg.Close)
	return NewServer(reg, password)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, wizard.State) {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	var st wizard.State
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	return w, st
}

func TestServer_Healthz(t *testing.T) {
	srv := testServer(t, "")
	w, _ := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_Programs(t *testing.T) {
	srv := testServer(t, "")
	r := httptest.NewRequest(http.MethodGet, "/api/programs", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var progs []wizard.Program
	if err := json.Unmarshal(w.Body.Bytes(), &progs); err != nil || len(progs) != 2 {
		t.Fatalf("expected two programs, got %s", w.Body.String())
	}
}

func TestServer_CreateAndGetSession(t *testing.T) {
	srv := testServer(t, "")
	w, st := doJSON(t, srv, http.MethodPost, "/api/checkin", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if st.ID == "" || st.Step != "dialog" {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(st.Turns) != 1 || st.Turns[0].Role != chat.RoleAssistant {
		t.Fatalf("expected scripted opening turn, got %+v", st.Turns)
	}

	w2, st2 := doJSON(t, srv, http.MethodGet, "/api/checkin/"+st.ID, "")
	if w2.Code != http.StatusOK || st2.ID != st.ID {
		t.Fatalf("lookup failed: %d %+v", w2.Code, st2)
	}
}

func TestServer_UnknownSessionIs404(t *testing.T) {
	srv := testServer(t, "")
	w, _ := doJSON(t, srv, http.MethodGet, "/api/checkin/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_MessageAppendsUserTurn(t *testing.T) {
	srv := testServer(t, "")
	_, st := doJSON(t, srv, http.MethodPost, "/api/checkin", "")

	w, st2 := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/message", `{"text":"I have a headache"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	found := false
	for _, turn := range st2.Turns {
		if turn.Role == chat.RoleUser && turn.Text == "I have a headache" {
			found = true
		}
	}
	if !found {
		t.Fatalf("user turn missing, got %+v", st2.Turns)
	}

	wEmpty, _ := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/message", `{"text":"   "}`)
	if wEmpty.Code != http.StatusBadRequest {
		t.Fatalf("blank message must be 400, got %d", wEmpty.Code)
	}
}

func TestServer_DocumentUpload(t *testing.T) {
	srv := testServer(t, "")
	_, st := doJSON(t, srv, http.MethodPost, "/api/checkin", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "referral.jpg")
	_, _ = fw.Write([]byte("jpegbytes"))
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/checkin/"+st.ID+"/document", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var st2 wizard.State
	_ = json.Unmarshal(w.Body.Bytes(), &st2)
	found := false
	for _, turn := range st2.Turns {
		if turn.Text == "Document uploaded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("upload turn missing, got %+v", st2.Turns)
	}

	wMissing, _ := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/document", "")
	if wMissing.Code != http.StatusBadRequest {
		t.Fatalf("missing file must be 400, got %d", wMissing.Code)
	}
}

func TestServer_WizardProgression(t *testing.T) {
	srv := testServer(t, "")
	_, st := doJSON(t, srv, http.MethodPost, "/api/checkin", "")

	// selecting programs before the dialog is complete is rejected
	wEarly, _ := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/programs", `{"programs":["impact"]}`)
	if wEarly.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", wEarly.Code)
	}
	wNoPass, _ := doJSON(t, srv, http.MethodGet, "/api/checkin/"+st.ID+"/pass", "")
	if wNoPass.Code != http.StatusConflict {
		t.Fatalf("expected 409 for early pass, got %d", wNoPass.Code)
	}

	wDone, stDone := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/complete", "")
	if wDone.Code != http.StatusOK || stDone.Step != "programs" {
		t.Fatalf("complete failed: %d %+v", wDone.Code, stDone)
	}

	wBad, _ := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/programs", `{"programs":["unknown"]}`)
	if wBad.Code != http.StatusBadRequest {
		t.Fatalf("unknown program must be 400, got %d", wBad.Code)
	}

	wSel, stSel := doJSON(t, srv, http.MethodPost, "/api/checkin/"+st.ID+"/programs", `{"programs":["impact"]}`)
	if wSel.Code != http.StatusOK || stSel.Step != "pass" {
		t.Fatalf("program selection failed: %d %+v", wSel.Code, stSel)
	}

	wPass, _ := doJSON(t, srv, http.MethodGet, "/api/checkin/"+st.ID+"/pass", "")
	if wPass.Code != http.StatusOK {
		t.Fatalf("expected pass, got %d: %s", wPass.Code, wPass.Body.String())
	}
	var pass wizard.BoardingPass
	if err := json.Unmarshal(wPass.Body.Bytes(), &pass); err != nil {
		t.Fatalf("pass decode: %v", err)
	}
	if pass.PassID == "" || len(pass.Programs) != 1 || pass.Programs[0] != "impact" {
		t.Fatalf("unexpected pass %+v", pass)
	}
}

func TestServer_DeleteSession(t *testing.T) {
	srv := testServer(t, "")
	_, st := doJSON(t, srv, http.MethodPost, "/api/checkin", "")
	w, _ := doJSON(t, srv, http.MethodDelete, "/api/checkin/"+st.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w2, _ := doJSON(t, srv, http.MethodGet, "/api/checkin/"+st.ID, "")
	if w2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w2.Code)
	}
}

func TestServer_AuthGuard(t *testing.T) {
	srv := testServer(t, "secret")
	w, _ := doJSON(t, srv, http.MethodPost, "/api/checkin", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w2, st := doJSON(t, srv, http.MethodPost, "/api/checkin?password=secret", "")
	if w2.Code != http.StatusCreated || st.ID == "" {
		t.Fatalf("expected 201 with token, got %d", w2.Code)
	}
	// healthz stays open
	w3, _ := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if w3.Code != http.StatusOK {
		t.Fatalf("healthz must not be guarded, got %d", w3.Code)
	}
}

func TestAuthOK(t *testing.T) {
	if !authOK(nil, "") {
		t.Fatalf("expected true when expected empty")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !authOK(r, "secret") {
		t.Fatalf("expected true with query password")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !authOK(r2, "tok") {
		t.Fatalf("expected true with X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "bearer abc")
	if !authOK(r3, "abc") {
		t.Fatalf("expected true with lowercase bearer prefix")
	}
	r4 := httptest.NewRequest(http.MethodGet, "/?password=wrong", nil)
	if authOK(r4, "secret") {
		t.Fatalf("expected false with wrong query token")
	}
	r5 := httptest.NewRequest(http.MethodGet, "/", nil)
	r5.Header.Set("Authorization", "Bearer nope")
	if authOK(r5, "secret") {
		t.Fatalf("expected false with wrong bearer token")
	}
}
