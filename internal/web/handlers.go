package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"prophetic/internal/app"
	"prophetic/internal/ics"
	"prophetic/internal/issues"
	"prophetic/internal/llm"
	"prophetic/internal/timeline"
)

// maxUploadBytes bounds a calendar upload.
const maxUploadBytes = 10 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// timelineResponse is the JSON shape for every /api/timeline call.
type timelineResponse struct {
	Date    string        `json:"date"`
	Weekday string        `json:"weekday"`
	Mode    timeline.Mode `json:"mode"`
}

func toTimelineResponse(st timeline.State) timelineResponse {
	return timelineResponse{
		Date:    st.Current.Format(time.DateOnly),
		Weekday: st.Current.Weekday().String(),
		Mode:    st.Mode,
	}
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toTimelineResponse(s.svc.Timeline()))
}

// decodeBody decodes an optional JSON body; an empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Days int `json:"days"`
	}{Days: 1}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, err := s.svc.Advance(r.Context(), req.Days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(st))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Reset(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(st))
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := timeline.ParseMode(req.Mode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	st, err := s.svc.SetMode(r.Context(), m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(st))
}

func (s *Server) handleSetDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(req.Date), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	st, err := s.svc.SetDate(r.Context(), day)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(st))
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Set string `json:"set"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	set, err := ics.ParseSampleSet(req.Set)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.LoadSample(r.Context(), set)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// importResponse carries the outcome of an import, including the fallback
// result when the payload was rejected.
type importResponse struct {
	Error  string           `json:"error,omitempty"`
	Result app.ImportResult `json:"result"`
}

func (s *Server) writeImport(w http.ResponseWriter, r *http.Request, res app.ImportResult, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, importResponse{Result: res})
		return
	}
	if res.Fallback {
		writeJSON(w, statusFor(err), importResponse{Error: err.Error(), Result: res})
		return
	}
	writeServiceError(w, r, err)
}

// handleUpload accepts either a multipart form with a "file" field or the
// raw calendar as the request body.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	name := "upload"
	var body []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, hdr, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		defer file.Close()
		name = hdr.Filename
		body, err = io.ReadAll(file)
	} else {
		if n := r.URL.Query().Get("name"); n != "" {
			name = n
		}
		body, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "calendar upload too large or unreadable")
		return
	}

	res, err := s.svc.ImportCalendar(r.Context(), name, body)
	s.writeImport(w, r, res, err)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.FetchCalendar(r.Context(), req.URL)
	if err != nil && !res.Fallback && statusFor(err) == http.StatusInternalServerError {
		// Anything unmapped here is the remote side failing.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeImport(w, r, res, err)
}

type eventsResponse struct {
	Date   string            `json:"date"`
	Scope  string            `json:"scope"`
	Events []app.EventStatus `json:"events"`
}

// handleEvents lists upcoming events; ?scope=all includes past ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	var events []app.EventStatus
	if scope == "all" {
		events = s.svc.Events()
	} else {
		scope = "upcoming"
		events = s.svc.Upcoming()
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Date:   s.svc.Timeline().Current.Format(time.DateOnly),
		Scope:  scope,
		Events: events,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.PendingDetails())
}

// keyParam returns a path parameter, percent-decoded.
func keyParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) handleGetDetails(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Details(keyParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type missingFieldsResponse struct {
	Error     string         `json:"error"`
	Missing   []string       `json:"missing"`
	Questions []llm.Question `json:"questions"`
}

func (s *Server) handlePutDetails(w http.ResponseWriter, r *http.Request) {
	var in app.DetailsInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := s.svc.SubmitDetails(r.Context(), keyParam(r, "key"), in)
	if err != nil {
		var merr *app.MissingFieldsError
		if errors.As(err, &merr) {
			writeJSON(w, http.StatusUnprocessableEntity, missingFieldsResponse{
				Error:     merr.Error(),
				Missing:   merr.Missing,
				Questions: merr.Questions,
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.Alerts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	key := keyParam(r, "key")
	if err := s.svc.Acknowledge(r.Context(), key); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "acknowledged": true})
}

// handleIssue runs one category check: ?event=<key> and/or ?location=...
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	c, err := issues.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	f, err := s.svc.CheckIssue(r.Context(), c, q.Get("event"), q.Get("location"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session())
}
