package httpserver

import (
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"
	"github.com/valyala/bytebufferpool"

	"limitpaste/internal/paste"
)

const (
	siteName     = "limitpaste"
	maxIDLength  = 64
	qrCodeSize   = 256
	formOverhead = 4096
)

type indexPageData struct {
	Content    string
	TTLSeconds string
	MaxViews   string
	Error      string
	MaxBytes   int
}

type createdPageData struct {
	ID        string
	URL       string
	ExpiresIn string
	MaxViews  int
	Protected bool
}

type viewPageData struct {
	ID             string
	Content        string
	Size           int
	ExpiresIn      string
	RemainingViews *int
	HomeURL        string
}

type passphrasePageData struct {
	ID    string
	Error string
}

type errorPageData struct {
	Message string
	Detail  string
	HomeURL string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string      { return "New paste · " + siteName }
func (d createdPageData) PageTitle() string    { return "Paste created · " + siteName }
func (d viewPageData) PageTitle() string       { return "Paste " + d.ID + " · " + siteName }
func (d passphrasePageData) PageTitle() string { return "Protected paste · " + siteName }

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return siteName
	}
	return d.Message + " · " + siteName
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.frontendURL != "" {
		http.Redirect(w, r, s.frontendURL+"/", http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "index", indexPageData{MaxBytes: s.svc.MaxBytes()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.svc.MaxBytes())+formOverhead)
	data := indexPageData{MaxBytes: s.svc.MaxBytes()}
	if err := r.ParseForm(); err != nil {
		data.Error = "Unable to parse form"
		s.render(w, r, http.StatusBadRequest, "index", data)
		return
	}
	data.Content = r.PostFormValue("content")
	data.TTLSeconds = strings.TrimSpace(r.PostFormValue("ttl_seconds"))
	data.MaxViews = strings.TrimSpace(r.PostFormValue("max_views"))

	req := paste.SubmitRequest{Content: data.Content, Passphrase: r.PostFormValue("passphrase")}
	var err error
	if req.TTLSeconds, err = formCount(data.TTLSeconds); err != nil {
		data.Error = msgTTLInvalid
		s.render(w, r, http.StatusBadRequest, "index", data)
		return
	}
	if req.MaxViews, err = formCount(data.MaxViews); err != nil {
		data.Error = msgViewsInvalid
		s.render(w, r, http.StatusBadRequest, "index", data)
		return
	}

	sub, err := s.svc.SubmitPaste(r.Context(), req)
	var verr *paste.ValidationError
	switch {
	case errors.As(err, &verr):
		data.Error = verr.Message
		s.render(w, r, http.StatusBadRequest, "index", data)
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}

	created := createdPageData{
		ID:        sub.ID,
		URL:       s.absoluteURL(r, sub.URL),
		Protected: req.Passphrase != "",
	}
	if req.TTLSeconds != nil {
		created.ExpiresIn = relative(time.Duration(*req.TTLSeconds) * time.Second)
	}
	if req.MaxViews != nil {
		created.MaxViews = *req.MaxViews
	}
	s.render(w, r, http.StatusCreated, "created", created)
}

// handleView serves the HTML page. Every successful load consumes a view.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.servePage(w, r, id, "", "")
}

func (s *Server) handlePassphrase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "password", passphrasePageData{ID: id, Error: "Unable to parse form"})
		return
	}
	s.servePage(w, r, id, r.PostFormValue("passphrase"), "Incorrect passphrase")
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, id, passphrase, wrongMsg string) {
	w.Header().Set("Cache-Control", "no-store")
	v, err := s.svc.ViewPaste(r.Context(), id, passphrase)
	switch {
	case errors.Is(err, paste.ErrPassphraseRequired):
		status := http.StatusOK
		data := passphrasePageData{ID: id}
		if passphrase != "" {
			status = http.StatusUnauthorized
			data.Error = wrongMsg
		}
		s.render(w, r, status, "password", data)
		return
	case errors.Is(err, paste.ErrNotFound):
		s.notFound(w, r)
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}

	data := viewPageData{
		ID:             id,
		Content:        v.Content,
		Size:           len(v.Content),
		RemainingViews: v.RemainingViews,
		HomeURL:        s.homeURL(),
	}
	if v.ExpiresAt != nil {
		data.ExpiresIn = relative(v.ExpiresAt.Sub(s.svc.Now(r.Context())))
	}
	s.render(w, r, http.StatusOK, "view", data)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.ViewPaste(r.Context(), chi.URLParam(r, "id"), r.Header.Get(PassphraseHeader))
	w.Header().Set("Cache-Control", "no-store")
	switch {
	case errors.Is(err, paste.ErrPassphraseRequired):
		http.Error(w, msgPassphrase, http.StatusUnauthorized)
		return
	case errors.Is(err, paste.ErrNotFound):
		http.Error(w, msgNotFound, http.StatusNotFound)
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = io.WriteString(w, v.Content)
}

// handleQR encodes the share URL. It never reads the paste, so rendering the
// code does not cost a view.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLength {
		s.notFound(w, r)
		return
	}
	png, err := qrcode.Encode(s.absoluteURL(r, s.svc.URL(id)), qrcode.Medium, qrCodeSize)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := siteName
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, r, bodyTemplate, err)
		return
	}
	page := bytebufferpool.Get()
	defer bytebufferpool.Put(page)
	layoutData := struct {
		Title   string
		Body    template.HTML
		HomeURL string
	}{
		Title:   title,
		Body:    template.HTML(body.String()),
		HomeURL: s.homeURL(),
	}
	if err := s.templates.ExecuteTemplate(page, "layout", layoutData); err != nil {
		s.handleTemplateError(w, r, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = page.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, r *http.Request, name string, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("template", name).Msg("render template")
	http.Error(w, "Template error", http.StatusInternalServerError)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Msg("internal error")
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: msgInternal, HomeURL: s.homeURL()})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error", errorPageData{
		Message: msgNotFound,
		Detail:  "It may have expired, reached its view limit, or never existed.",
		HomeURL: s.homeURL(),
	})
}

// formCount parses an optional positive count from a form field. Range
// checks happen in the service.
func formCount(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse count")
	}
	return &n, nil
}

// relative renders d as "3 minutes from now".
func relative(d time.Duration) string {
	var base time.Time
	return humanize.RelTime(base.Add(d), base, "ago", "from now")
}
