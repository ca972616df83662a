package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/predict"
	"ratewatch/internal/rates"
	"ratewatch/internal/scheduler"
)

type errorResponse struct {
	Error string `json:"error"`
}

type latestResponse struct {
	Pair       string `json:"pair"`
	Class      string `json:"class"`
	Rate       string `json:"rate"`
	ObservedAt string `json:"observed_at"`
	Source     string `json:"source"`
	Staleness  string `json:"staleness"`
	AgeSeconds int64  `json:"age_seconds"`
}

type convertResponse struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Rate   string `json:"rate"`
	Result string `json:"result"`
}

type historyPoint struct {
	Rate       string `json:"rate"`
	ObservedAt string `json:"observed_at"`
}

type historyResponse struct {
	Pair   string         `json:"pair"`
	Period string         `json:"period"`
	Points []historyPoint `json:"points"`
}

type predictResponse struct {
	Pair       string  `json:"pair"`
	Horizon    string  `json:"horizon"`
	Rate       string  `json:"rate"`
	Confidence float64 `json:"confidence"`
	Points     int     `json:"points"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	pair, err := rates.ParsePair(r.URL.Query().Get("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := s.pipeline.Latest(pair)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, latestResponse{
		Pair:       entry.Snapshot.Pair.String(),
		Class:      string(entry.Snapshot.Class),
		Rate:       entry.Snapshot.Rate.String(),
		ObservedAt: entry.Snapshot.ObservedAt.UTC().Format(time.RFC3339),
		Source:     entry.Snapshot.Source,
		Staleness:  string(entry.Staleness(now)),
		AgeSeconds: int64(entry.Age(now).Seconds()),
	})
}

func (s *Server) handlePairs(w http.ResponseWriter, _ *http.Request) {
	pairs := s.pipeline.Pairs()
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"pairs": out})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, errors.New("from and to are required"))
		return
	}

	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal number"))
		return
	}
	if amount.IsNegative() {
		writeError(w, http.StatusBadRequest, errors.New("amount must not be negative"))
		return
	}

	conv, err := s.pipeline.Convert(r.Context(), amount, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, convertResponse{
		From:   conv.From,
		To:     conv.To,
		Amount: conv.Amount.String(),
		Rate:   conv.Rate.String(),
		Result: conv.Result.String(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair, err := rates.ParsePair(q.Get("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	period := time.Hour
	if raw := q.Get("period"); raw != "" {
		period, err = time.ParseDuration(raw)
		if err != nil || period <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("period must be a positive duration"))
			return
		}
	}

	points := s.pipeline.History(pair, period)
	out := make([]historyPoint, 0, len(points))
	for _, p := range points {
		out = append(out, historyPoint{
			Rate:       p.Rate.String(),
			ObservedAt: p.ObservedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Pair:   pair.String(),
		Period: period.String(),
		Points: out,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair, err := rates.ParsePair(q.Get("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	horizon, err := predict.ParseHorizon(q.Get("horizon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	estimate, err := s.pipeline.Predict(pair, horizon)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Pair:       estimate.Pair.String(),
		Horizon:    string(estimate.Horizon),
		Rate:       estimate.Rate.String(),
		Confidence: estimate.Confidence,
		Points:     estimate.Points,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.pipeline.Health()

	classes := make(map[string]string, len(rates.Classes()))
	status := http.StatusOK
	for _, class := range rates.Classes() {
		st, ok := snapshot[class]
		if !ok {
			st = scheduler.Healthy
		}
		classes[string(class)] = string(st)
		if st == scheduler.Failed {
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]any{
		"status":  httpStatusWord(status),
		"classes": classes,
	})
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// writeDomainError maps pipeline errors onto HTTP statuses: unknown pairs
// are 404, semantically valid but unservable requests are 422.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rates.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, rates.ErrNoRoute), errors.Is(err, predict.ErrInsufficientHistory):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
