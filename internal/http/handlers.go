package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vocht/internal/core"
	"vocht/internal/dayview"
)

type intakeRequest struct {
	Name             string          `json:"name"`
	Quantity         json.RawMessage `json:"quantity"`
	OriginalQuantity json.RawMessage `json:"originalQuantity"`
	ImageURL         string          `json:"imageUrl"`
	Date             string          `json:"date"`
}

type scanRequest struct {
	Barcode string   `json:"barcode"`
	Percent *float64 `json:"percent"`
	Date    string   `json:"date"`
}

type cupRequest struct {
	Size json.RawMessage `json:"size"`
}

type entryResponse struct {
	Entry     core.Entry `json:"entry"`
	TotalML   float64    `json:"totalMl"`
	Persisted bool       `json:"persisted"`
	Warning   string     `json:"warning,omitempty"`
}

type totalResponse struct {
	dayview.Progress
	CupSizeML     float64 `json:"cupSizeMl,omitempty"`
	CupConfigured bool    `json:"cupConfigured"`
	Entries       int     `json:"entries"`
}

type entriesResponse struct {
	Entries []core.Entry `json:"entries"`
	TotalML float64      `json:"totalMl"`
}

type dayResponse struct {
	Date    string       `json:"date"`
	Entries []core.Entry `json:"entries"`
	dayview.Progress
}

type cupResponse struct {
	SizeML float64 `json:"sizeMl"`
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	size, ok := s.reader.CupSize()
	resp := totalResponse{
		Progress:      dayview.ProgressOf(s.reader.CurrentTotal(), s.goalML),
		CupConfigured: ok,
		Entries:       len(s.reader.Entries()),
	}
	if ok {
		resp.CupSizeML = size
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries := s.reader.Entries()
	writeJSON(w, http.StatusOK, entriesResponse{
		Entries: entries,
		TotalML: s.reader.CurrentTotal(),
	})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := core.ParseDate(r.PathValue("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date, expected YYYY-MM-DD"})
		return
	}
	day = dayview.ShiftDate(day, parseShift(r))

	entries := dayview.EntriesOn(s.reader.Entries(), day)
	total := core.TotalOf(entries)

	writeJSON(w, http.StatusOK, dayResponse{
		Date:     day.String(),
		Entries:  entries,
		Progress: dayview.ProgressOf(total, s.goalML),
	})
}

func (s *Server) handleLogIntake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	name := sanitizeInput(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	quantity, err := parseQuantityField(req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	original := quantity
	if len(req.OriginalQuantity) > 0 {
		if original, err = parseQuantityField(req.OriginalQuantity); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	date, err := parseDateField(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date, expected YYYY-MM-DD"})
		return
	}

	entry, err := s.intake.LogProduct(r.Context(), name, quantity, original, strings.TrimSpace(req.ImageURL), date)
	s.respondEntry(w, r, entry, err)
}

func (s *Server) handleLogScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	barcode := sanitizeInput(req.Barcode)
	if barcode == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "barcode is required"})
		return
	}

	// Absent percent means the whole serving.
	percent := 100.0
	if req.Percent != nil {
		percent = *req.Percent
	}

	date, err := parseDateField(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date, expected YYYY-MM-DD"})
		return
	}

	entry, err := s.intake.LogScan(r.Context(), barcode, percent, date)
	s.respondEntry(w, r, entry, err)
}

func (s *Server) handleLogCup(w http.ResponseWriter, r *http.Request) {
	entry, err := s.intake.LogCup(r.Context())
	s.respondEntry(w, r, entry, err)
}

// respondEntry writes the outcome of a mutation. A persistence failure
// is not a rejection: the entry is live in the session, so the response
// carries it with persisted=false and a degraded status.
func (s *Server) respondEntry(w http.ResponseWriter, r *http.Request, entry core.Entry, err error) {
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		s.writeError(w, r, err)
		return
	}

	resp := entryResponse{
		Entry:     entry,
		TotalML:   s.reader.CurrentTotal(),
		Persisted: err == nil,
	}
	status := http.StatusCreated
	if err != nil {
		resp.Warning = "entry recorded but not yet persisted"
		status = http.StatusServiceUnavailable
	} else {
		s.slog.LogEntryAppended(r.Context(), entry.Name, entry.Quantity, entry.Date.String(), resp.TotalML)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetCup(w http.ResponseWriter, r *http.Request) {
	size, ok := s.reader.CupSize()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no cup configured"})
		return
	}
	writeJSON(w, http.StatusOK, cupResponse{SizeML: size})
}

func (s *Server) handleSetCup(w http.ResponseWriter, r *http.Request) {
	var req cupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	size, err := parseQuantityField(req.Size)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("cup size: %w", err))
		return
	}

	if err := s.cups.SetCupSize(r.Context(), size); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cupResponse{SizeML: size})
}

func (s *Server) handleClearCup(w http.ResponseWriter, r *http.Request) {
	if err := s.cups.ClearCupSize(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.intake.Reset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.cups.Flush(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
