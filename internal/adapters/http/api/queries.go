package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/okian/lostfits/internal/query"
)

const (
	defaultMaxLimit  = 100
	defaultPageLimit = 50
)

func (s *Server) params(r *http.Request) query.Params {
	return query.ParseParams(r.URL.Query(), s.maxLimit)
}

// page reads limit and offset for paged listings.
func (s *Server) page(r *http.Request) (limit, offset int) {
	v := r.URL.Query()
	limit = query.IntParam(v, "limit", min(defaultPageLimit, s.maxLimit), 1, s.maxLimit)
	offset = query.IntParam(v, "offset", 0, 0, math.MaxInt32)
	return limit, offset
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "api.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePopularFits(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.PopularFits(r.Context(), s.params(r))
	if err != nil {
		s.fail(w, r, "api.popular_fits", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePopularShips(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.PopularShips(r.Context(), s.params(r))
	if err != nil {
		s.fail(w, r, "api.popular_ships", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFitDetail answers 200 with found=false for unknown signatures.
func (s *Server) handleFitDetail(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.FitDetail(r.Context(), r.PathValue("signature"))
	if err != nil {
		s.fail(w, r, "api.fit_detail", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFitByLocation(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.FitByLocation(r.Context(), r.PathValue("signature"), s.params(r))
	if err != nil {
		s.fail(w, r, "api.fit_by_location", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePopularLocations(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.PopularLocations(r.Context(), s.params(r))
	if err != nil {
		s.fail(w, r, "api.popular_locations", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShips(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.Ships(r.Context())
	if err != nil {
		s.fail(w, r, "api.ships", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.Regions(r.Context())
	if err != nil {
		s.fail(w, r, "api.regions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConstellations(w http.ResponseWriter, r *http.Request) {
	regions := query.IDList(r.URL.Query().Get("region_ids"))
	out, err := s.queries.Constellations(r.Context(), regions)
	if err != nil {
		s.fail(w, r, "api.constellations", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	out, err := s.queries.Systems(r.Context(), query.IDList(v.Get("constellation_ids")), query.IDList(v.Get("region_ids")))
	if err != nil {
		s.fail(w, r, "api.systems", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleKillmails(w http.ResponseWriter, r *http.Request) {
	limit, offset := s.page(r)
	out, err := s.queries.Killmails(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, "api.killmails", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleKillmail(w http.ResponseWriter, r *http.Request) {
	const op = "api.killmail"
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("invalid killmail id")))
		return
	}
	out, err := s.queries.Killmail(r.Context(), id)
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleItemTypes(w http.ResponseWriter, r *http.Request) {
	limit, offset := s.page(r)
	out, err := s.queries.ItemTypes(r.Context(), r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		s.fail(w, r, "api.item_types", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
