package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"nullbin/cfg"
	"nullbin/pkg/domain"
	"nullbin/svc/svc"
	"nullbin/svc/util"
)

const maxTitleLength = 256

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Expiry   string `json:"expiry"`
	IV       string `json:"iv"`
	Salt     string `json:"salt,omitempty"`
	Password string `json:"password,omitempty"` // marker only, never a real password
}

type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())

	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}

	// Ciphertext is base64 so the body runs larger than the plaintext
	// limit; double it and let the service enforce the real cap.
	limit := h.cfg.MaxContentSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req CreateReq
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("malformed request body")
		}
		writeErr(w, domain.ErrInvalidJSON, requestID)
		return
	}
	if req.Content == "" || req.Language == "" || req.Expiry == "" || req.IV == "" {
		log.Warn().
			Bool("has_content", req.Content != "").
			Bool("has_language", req.Language != "").
			Bool("has_expiry", req.Expiry != "").
			Bool("has_iv", req.IV != "").
			Msg("missing required fields")
		writeErr(w, domain.ErrMissingFields, requestID)
		return
	}
	if !domain.ValidExpiry(req.Expiry) {
		log.Warn().Str("expiry", req.Expiry).Msg("unknown expiry option")
		writeErr(w, domain.ErrInvalidExpiry, requestID)
		return
	}

	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Title:    sanitizeTitle(req.Title),
		Content:  req.Content,
		Language: req.Language,
		Expiry:   req.Expiry,
		IV:       req.IV,
		Salt:     req.Salt,
		Password: req.Password,
	})
	if err != nil {
		log.Warn().Err(err).Msg("paste creation failed")
		writeErr(w, err, requestID)
		return
	}

	base := h.cfg.BaseURL
	if base == "" {
		base = requestOrigin(r)
	}
	resp := CreateResp{
		ID:  paste.ID,
		URL: strings.TrimSuffix(base, "/") + "/paste/" + paste.ID,
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("language", paste.Language).
		Str("expiry", req.Expiry).
		Msg("paste created")
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if !util.ValidID(id) {
		log.Warn().Str("paste_id", id).Msg("malformed paste id")
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}

	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		var exp *domain.ExpiredError
		if errors.As(err, &exp) {
			log.Info().
				Str("paste_id", id).
				Time("expired_at", exp.At).
				Msg("expired paste requested")
			w.WriteHeader(http.StatusGone)
			json.NewEncoder(w).Encode(map[string]string{
				"error":     "Paste expired",
				"expiredAt": exp.At.UTC().Format(time.RFC3339Nano),
				"message":   expiredMessage(exp.At),
			})
			return
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int64("views", paste.ViewCount).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

func expiredMessage(at time.Time) string {
	return "This paste expired on " + at.UTC().Format("1/2/2006, 3:04:05 PM") +
		" and has been automatically removed for security."
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.Message(err)
	if statusCode == http.StatusInternalServerError {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

// sanitizeTitle normalizes the display title and strips control
// characters. Content is never touched; it is opaque ciphertext.
func sanitizeTitle(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	if len(s) > maxTitleLength {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := maxTitleLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}
