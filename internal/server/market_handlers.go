package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleQuote returns the freshest quote for a symbol.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	quote, err := s.market.GetQuote(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if quote == nil {
		s.writeError(w, http.StatusNotFound, "no quote available for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// handleHistory returns OHLCV rows. Defaults: one year of daily bars.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	period := queryDefault(r, "period", "1y")
	interval := queryDefault(r, "interval", "1d")

	rows, err := s.market.GetHistoryRows(r.Context(), symbol, period, interval)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if rows == nil {
		s.writeError(w, http.StatusNotFound, "no history available for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":   symbol,
		"period":   period,
		"interval": interval,
		"bars":     rows,
	})
}

// handleFundamentals returns valuation figures.
func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	fund, err := s.market.GetFundamentals(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if fund == nil {
		s.writeError(w, http.StatusNotFound, "no fundamentals available for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, fund)
}

// handleInfo returns company metadata.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	info, err := s.market.GetInfo(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if info == nil {
		s.writeError(w, http.StatusNotFound, "no company info available for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleEarnings returns reported and upcoming earnings events.
func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	earnings, err := s.market.GetEarnings(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if earnings == nil {
		s.writeError(w, http.StatusNotFound, "no earnings available for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":   symbol,
		"earnings": earnings,
	})
}

// handleTickerData returns the composed quote + info + fundamentals view.
func (s *Server) handleTickerData(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	td, err := s.market.GetTickerData(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, td)
}

// handleOptionsExpirations returns the available expiry dates.
func (s *Server) handleOptionsExpirations(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	expirations, err := s.market.GetOptionsExpirations(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if expirations == nil {
		s.writeError(w, http.StatusNotFound, "no options listed for "+symbol)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":      symbol,
		"expirations": expirations,
	})
}

// handleOptionsChain returns both sides of the chain for one expiry.
func (s *Server) handleOptionsChain(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	expiry := chi.URLParam(r, "expiry")

	chain, err := s.market.GetOptionsChain(r.Context(), symbol, expiry)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if chain == nil {
		s.writeError(w, http.StatusNotFound, "no chain for "+symbol+" expiring "+expiry)
		return
	}
	s.writeJSON(w, http.StatusOK, chain)
}

func queryDefault(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}
