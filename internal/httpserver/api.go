package httpserver

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"limitpaste/internal/paste"
)

const (
	isoMillis = "2006-01-02T15:04:05.000Z07:00"

	msgNotFound       = "Paste not found or unavailable"
	msgPassphrase     = "Passphrase required"
	msgInternal       = "Internal server error"
	msgInvalidJSON    = "request body must be a JSON object"
	msgBodyTooLarge   = "request body too large"
	msgContentInvalid = "content is required and must be a non-empty string"
	msgTTLInvalid     = "ttl_seconds must be an integer >= 1"
	msgViewsInvalid   = "max_views must be an integer >= 1"
	msgPassInvalid    = "passphrase must be a string"
)

type createRequest struct {
	Content    json.RawMessage `json:"content"`
	TTLSeconds json.RawMessage `json:"ttl_seconds"`
	MaxViews   json.RawMessage `json:"max_views"`
	Passphrase json.RawMessage `json:"passphrase"`
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type viewResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int    `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	// JSON escaping can inflate content up to six times.
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.svc.MaxBytes())*6+4096)
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgBodyTooLarge})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	req, err := body.toSubmit()
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	sub, err := s.svc.SubmitPaste(r.Context(), req)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	hlog.FromRequest(r).Debug().Str("paste_id", sub.ID).Msg("paste created")
	writeJSON(w, http.StatusCreated, createResponse{ID: sub.ID, URL: s.absoluteURL(r, sub.URL)})
}

func (s *Server) handleAPIView(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.ViewPaste(r.Context(), chi.URLParam(r, "id"), r.Header.Get(PassphraseHeader))
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	resp := viewResponse{Content: v.Content, RemainingViews: v.RemainingViews}
	if exp := formatExpiry(v.ExpiresAt); exp != "" {
		resp.ExpiresAt = &exp
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Ping(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("store ping failed")
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: err == nil})
}

func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *paste.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message})
	case errors.Is(err, paste.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
	case errors.Is(err, paste.ErrPassphraseRequired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgPassphrase})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// toSubmit applies the wire rules: absent or null limits are unrestricted,
// anything but a positive integral number is rejected.
func (c createRequest) toSubmit() (paste.SubmitRequest, error) {
	var req paste.SubmitRequest
	if isNull(c.Content) || json.Unmarshal(c.Content, &req.Content) != nil {
		return req, &paste.ValidationError{Field: "content", Message: msgContentInvalid}
	}
	var err error
	if req.TTLSeconds, err = optionalCount(c.TTLSeconds); err != nil {
		return req, &paste.ValidationError{Field: "ttl_seconds", Message: msgTTLInvalid}
	}
	if req.MaxViews, err = optionalCount(c.MaxViews); err != nil {
		return req, &paste.ValidationError{Field: "max_views", Message: msgViewsInvalid}
	}
	if !isNull(c.Passphrase) && json.Unmarshal(c.Passphrase, &req.Passphrase) != nil {
		return req, &paste.ValidationError{Field: "passphrase", Message: msgPassInvalid}
	}
	return req, nil
}

var errNotInteger = errors.New("not an integer")

func optionalCount(raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, errNotInteger
	}
	if n, err := num.Int64(); err == nil {
		if n > math.MaxInt || n < math.MinInt {
			return nil, errNotInteger
		}
		out := int(n)
		return &out, nil
	}
	// Integral values written with a fraction or exponent, such as 60.0 or 1e3.
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return nil, errNotInteger
	}
	out := int(f)
	return &out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(isoMillis)
}
