// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/assistd-org/assistd/internal/coredb"
)

func TestStorageHealthOK(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	handler := NewStorageHealthHandler(db)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/storage", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stats coredb.StorageStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stats.OK {
		t.Fatalf("stats not ok: %+v", stats)
	}
	if stats.Driver == "" {
		t.Fatal("driver missing from stats")
	}
}

func TestStorageHealthMethodNotAllowed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	handler := NewStorageHealthHandler(db)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/storage", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
