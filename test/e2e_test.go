package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nullbin/pkg/envelope"
)

type createResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type pasteResp struct {
	ID                string `json:"id"`
	Content           string `json:"content"`
	IV                string `json:"iv"`
	Salt              string `json:"salt"`
	PasswordProtected bool   `json:"passwordProtected"`
	ViewCount         int64  `json:"viewCount"`
}

func (h *harness) create(t *testing.T, body map[string]string) createResp {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/paste", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var resp createResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func (h *harness) fetch(t *testing.T, id string) pasteResp {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/paste/"+id, nil)
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch status = %d: %s", w.Code, w.Body.String())
	}
	var resp pasteResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode paste response: %v", err)
	}
	return resp
}

// Full round trip: seal locally, publish the ciphertext, share the key
// through the URL fragment, fetch the record back and open it.
func TestShareAndOpen(t *testing.T) {
	h := newHarness(t)
	plaintext := []byte("package main\n\nfunc main() {}\n")

	sealed, err := envelope.Encrypt(plaintext, "")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	created := h.create(t, map[string]string{
		"title":    "hello",
		"content":  sealed.Ciphertext,
		"language": "go",
		"expiry":   "1h",
		"iv":       sealed.IV,
	})

	link := envelope.ShareLink("https://bin.example.com", created.ID, sealed.Key, sealed.IV)
	if !strings.HasPrefix(link, created.URL+"#") {
		t.Fatalf("share link %q does not extend %q", link, created.URL)
	}

	// The recipient only has the link. Everything after # never went
	// over the wire.
	frag := link[strings.IndexByte(link, '#'):]
	data, ok := envelope.DecodeFragment(frag)
	if !ok {
		t.Fatal("fragment did not decode")
	}
	if data.Key.PasswordDerived() {
		t.Fatal("plain paste produced a password-derived fragment")
	}

	record := h.fetch(t, created.ID)
	if record.PasswordProtected {
		t.Error("plain paste marked password protected")
	}
	opened, err := envelope.Decrypt(envelope.DecryptParams{
		Ciphertext: record.Content,
		IV:         record.IV,
		Key:        data.Key,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: %q", opened)
	}
}

func TestShareAndOpenWithPassword(t *testing.T) {
	h := newHarness(t)
	plaintext := []byte("secret meeting notes")
	password := "correct horse battery staple"

	sealed, err := envelope.Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed.Salt == "" {
		t.Fatal("password path produced no salt")
	}

	created := h.create(t, map[string]string{
		"content":  sealed.Ciphertext,
		"language": "markdown",
		"expiry":   "1d",
		"iv":       sealed.IV,
		"salt":     sealed.Salt,
	})

	frag := "#" + envelope.EncodeFragment(sealed.Key, sealed.IV)
	data, ok := envelope.DecodeFragment(frag)
	if !ok {
		t.Fatal("fragment did not decode")
	}
	if !data.Key.PasswordDerived() {
		t.Fatal("fragment lost the password-protection marker")
	}

	record := h.fetch(t, created.ID)
	if !record.PasswordProtected || record.Salt == "" {
		t.Fatalf("record not marked password protected: %+v", record)
	}

	// The fragment alone is not enough without the password.
	_, err = envelope.Decrypt(envelope.DecryptParams{
		Ciphertext: record.Content,
		IV:         record.IV,
		Salt:       record.Salt,
		Key:        data.Key,
	})
	if err != envelope.ErrPasswordRequired {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}

	opened, err := envelope.Decrypt(envelope.DecryptParams{
		Ciphertext: record.Content,
		IV:         record.IV,
		Salt:       record.Salt,
		Password:   password,
		Key:        data.Key,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch: %q", opened)
	}

	if _, err := envelope.Decrypt(envelope.DecryptParams{
		Ciphertext: record.Content,
		IV:         record.IV,
		Salt:       record.Salt,
		Password:   "wrong password",
		Key:        data.Key,
	}); err != envelope.ErrDecryptionFailed {
		t.Errorf("wrong password: expected ErrDecryptionFailed, got %v", err)
	}
}

func TestViewsAccumulateAcrossReaders(t *testing.T) {
	h := newHarness(t)
	sealed, err := envelope.Encrypt([]byte("shared snippet"), "")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	created := h.create(t, map[string]string{
		"content":  sealed.Ciphertext,
		"language": "plaintext",
		"expiry":   "never",
		"iv":       sealed.IV,
	})
	for want := int64(1); want <= 3; want++ {
		if got := h.fetch(t, created.ID).ViewCount; got != want {
			t.Errorf("read %d: viewCount = %d", want, got)
		}
	}
}
