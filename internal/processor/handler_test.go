package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callflow_backend/internal/calls"
	"callflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type brokenStore struct {
	*calls.MemoryRepository
}

func (brokenStore) FindByExternalID(context.Context, string) (*calls.Call, error) {
	return nil, errors.New("connection refused")
}

func newAdminEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/calls/:externalId", h.HandleGetCall)
	engine.POST("/calls/:externalId/reprocess", h.HandleReprocess)
	return engine
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminGetCall(t *testing.T) {
	h := newHarness(t)
	accept(t, h, homeQuoteCall("conv_admin"))
	engine := newAdminEngine(NewHandler(h.proc, h.store, validator.New()))

	rec := serve(engine, http.MethodGet, "/calls/conv_admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var call calls.Call
	if err := json.Unmarshal(rec.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if call.ExternalCallID != "conv_admin" {
		t.Fatalf("unexpected call %+v", call)
	}

	if rec := serve(engine, http.MethodGet, "/calls/unknown"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRejectsOversizedExternalID(t *testing.T) {
	h := newHarness(t)
	engine := newAdminEngine(NewHandler(h.proc, h.store, validator.New()))
	long := strings.Repeat("x", 129)

	for _, rec := range []*httptest.ResponseRecorder{
		serve(engine, http.MethodGet, "/calls/"+long),
		serve(engine, http.MethodPost, "/calls/"+long+"/reprocess"),
	} {
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "externalId") {
			t.Fatalf("expected 400 naming externalId, got %d: %s", rec.Code, rec.Body.String())
		}
	}
}

func TestAdminStoreFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	engine := newAdminEngine(NewHandler(h.proc, brokenStore{h.store}, validator.New()))

	rec := serve(engine, http.MethodGet, "/calls/conv_admin")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("store error text must not leak: %s", rec.Body.String())
	}
}

func TestAdminReprocessCompletesCall(t *testing.T) {
	h := newHarness(t)
	accept(t, h, homeQuoteCall("conv_admin_run"))
	engine := newAdminEngine(NewHandler(h.proc, h.store, validator.New()))

	rec := serve(engine, http.MethodPost, "/calls/conv_admin_run/reprocess")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Call calls.Call `json:"call"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Call.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", resp.Call.Status)
	}

	if rec := serve(engine, http.MethodPost, "/calls/unknown/reprocess"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
