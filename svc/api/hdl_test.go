package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"nullbin/cfg"
	"nullbin/pkg/domain"
	"nullbin/svc/db"
	"nullbin/svc/lim"
	"nullbin/svc/svc"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{12}$`)

func newTestServer(t *testing.T) (*Server, *db.SQLite) {
	t.Helper()
	c := &cfg.Cfg{
		Port:            "8080",
		Environment:     "test",
		BaseURL:         "https://bin.example.com",
		MaxContentSize:  512 * 1024,
		ContextTimeout:  5 * time.Second,
		CleanupInterval: time.Minute,
		MaxCreateLoad:   200,
		RateLimit:       cfg.RateLimitCfg{RPM: 100000, Burst: 100000},
	}
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, 100, nil, nil)
	if err != nil {
		t.Fatalf("lim.New: %v", err)
	}
	t.Cleanup(limiter.Stop)
	return NewServer(c, svc.NewPaste(store, c), limiter, store, nil), store
}

func postPaste(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/paste", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func getPaste(s *Server, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/paste/"+id, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, w.Body.String())
	}
	return m
}

func TestCreatePaste(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"content":"b64ciphertext","language":"go","expiry":"1h","iv":"b64iv"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	id, _ := resp["id"].(string)
	if !idPattern.MatchString(id) {
		t.Errorf("id %q does not match expected format", id)
	}
	url, _ := resp["url"].(string)
	if url != "https://bin.example.com/paste/"+id {
		t.Errorf("url = %q", url)
	}
}

func TestCreatePasteWrongContentType(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/paste", strings.NewReader("content=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCreatePasteMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"content":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeJSON(t, w)["error"]; got != "Invalid JSON in request body" {
		t.Errorf("error = %q", got)
	}
}

func TestCreatePasteMissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{
		`{}`,
		`{"content":"x","language":"go","expiry":"1h"}`,
		`{"content":"x","language":"go","iv":"iv"}`,
		`{"content":"x","expiry":"1h","iv":"iv"}`,
		`{"language":"go","expiry":"1h","iv":"iv"}`,
	} {
		w := postPaste(t, s, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, w.Code)
			continue
		}
		if got := decodeJSON(t, w)["error"]; got != "Missing required fields" {
			t.Errorf("%s: error = %q", body, got)
		}
	}
}

func TestCreatePasteInvalidExpiry(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"content":"x","language":"go","expiry":"2w","iv":"iv"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGetPasteRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"title":"demo","content":"b64ciphertext","language":"go","expiry":"1h","iv":"b64iv"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create: %d", w.Code)
	}
	id := decodeJSON(t, w)["id"].(string)

	w = getPaste(s, id)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["content"] != "b64ciphertext" || resp["iv"] != "b64iv" || resp["title"] != "demo" {
		t.Errorf("record mismatch: %v", resp)
	}
	if resp["passwordProtected"] != false {
		t.Errorf("passwordProtected = %v", resp["passwordProtected"])
	}
	if _, present := resp["salt"]; present {
		t.Error("salt present on plain paste response")
	}
	if resp["viewCount"].(float64) != 1 {
		t.Errorf("first read viewCount = %v", resp["viewCount"])
	}
	if resp["expiresAt"] == nil {
		t.Error("expiresAt missing for 1h expiry")
	}

	w = getPaste(s, id)
	if decodeJSON(t, w)["viewCount"].(float64) != 2 {
		t.Error("second read did not increment viewCount")
	}
}

func TestGetPasteNeverExpiresNullExpiry(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"content":"c","language":"go","expiry":"never","iv":"iv"}`)
	id := decodeJSON(t, w)["id"].(string)

	w = getPaste(s, id)
	var resp struct {
		ExpiresAt *int64 `json:"expiresAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ExpiresAt != nil {
		t.Errorf("expiresAt = %v, want null", *resp.ExpiresAt)
	}
}

func TestGetPastePasswordProtected(t *testing.T) {
	s, _ := newTestServer(t)
	w := postPaste(t, s, `{"content":"c","language":"go","expiry":"1h","iv":"iv","salt":"b64salt"}`)
	id := decodeJSON(t, w)["id"].(string)

	resp := decodeJSON(t, getPaste(s, id))
	if resp["passwordProtected"] != true {
		t.Error("salted paste not marked password protected")
	}
	if resp["salt"] != "b64salt" {
		t.Errorf("salt = %v", resp["salt"])
	}
}

func TestGetPasteNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	for _, id := range []string{"abcdefghij12", "short", "has-dashes!!"} {
		w := getPaste(s, id)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", id, w.Code)
			continue
		}
		if got := decodeJSON(t, w)["error"]; got != "Paste not found" {
			t.Errorf("%s: error = %q", id, got)
		}
	}
}

func TestGetPasteExpired(t *testing.T) {
	s, store := newTestServer(t)
	past := time.Now().Add(-time.Minute).UnixMilli()
	seeded := &domain.Paste{
		ID:        "expiredseed1",
		Content:   "c",
		Language:  "go",
		CreatedAt: time.Now().Add(-time.Hour).UnixMilli(),
		ExpiresAt: &past,
		IV:        "iv",
	}
	if err := store.Create(context.Background(), seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := getPaste(s, seeded.ID)
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON(t, w)
	if resp["error"] != "Paste expired" {
		t.Errorf("error = %q", resp["error"])
	}
	expiredAt, _ := resp["expiredAt"].(string)
	ts, err := time.Parse(time.RFC3339Nano, expiredAt)
	if err != nil {
		t.Fatalf("expiredAt %q not RFC3339: %v", expiredAt, err)
	}
	if ts.UnixMilli() != past {
		t.Errorf("expiredAt = %v, want %d", ts.UnixMilli(), past)
	}
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "expired on") {
		t.Errorf("message = %q", msg)
	}

	// The expired record is deleted on first touch.
	if w := getPaste(s, seeded.ID); w.Code != http.StatusNotFound {
		t.Errorf("second read status = %d", w.Code)
	}
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"control characters stripped", "a\x00b\x1fc\x7fd", "abcd"},
		{"combining mark normalized", "café", "café"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"long ascii capped", strings.Repeat("a", 300), strings.Repeat("a", 256)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeTitle(tc.in); got != tc.want {
				t.Errorf("sanitizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeTitleTruncatesOnRuneBoundary(t *testing.T) {
	// 255 ASCII bytes followed by a two-byte rune: a byte cut at 256
	// would split it. The whole rune must go instead.
	in := strings.Repeat("a", 255) + "é"
	got := sanitizeTitle(in)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated title is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("a", 255) {
		t.Errorf("got %d bytes, want the 255 ASCII bytes only", len(got))
	}

	// Same with a four-byte rune straddling the cap.
	in = strings.Repeat("a", 254) + "\U0001f600"
	got = sanitizeTitle(in)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated title is not valid UTF-8: %q", got)
	}
	if got != strings.Repeat("a", 254) {
		t.Errorf("got %d bytes, want the 254 ASCII bytes only", len(got))
	}
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	w := getPaste(s, "abcdefghij12")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("missing rate limit headers")
	}
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.MetricsUser = "ops"
	s.cfg.MetricsPass = cfg.NewSecret("hunter2")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "hunter2")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", w.Code)
	}
}
