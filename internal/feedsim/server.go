package feedsim

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Server fakes both the RedisQ feed and the ESI universe endpoints.
type Server struct {
	mu       sync.Mutex
	queue    [][]byte
	hits     map[string]int
	failNext int
	latency  time.Duration

	universe *Universe
	mux      *http.ServeMux
}

// NewServer serves u. Packages are queued with Push.
func NewServer(u *Universe) *Server {
	s := &Server{
		hits:     make(map[string]int),
		universe: u,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /listen.php", s.listen)
	s.mux.HandleFunc("GET /universe/types/{id}/{$}", s.lookup(func(id int64) (any, bool) { return u.itemType(id) }))
	s.mux.HandleFunc("GET /universe/groups/{id}/{$}", s.lookup(func(id int64) (any, bool) { return u.group(id) }))
	s.mux.HandleFunc("GET /universe/systems/{id}/{$}", s.lookup(func(id int64) (any, bool) { return u.system(id) }))
	s.mux.HandleFunc("GET /universe/constellations/{id}/{$}", s.lookup(func(id int64) (any, bool) {
		c, ok := u.constellation(id)
		if !ok {
			return nil, false
		}
		return struct {
			ConstellationID int64   `json:"constellation_id"`
			Name            string  `json:"name"`
			RegionID        int64   `json:"region_id"`
			Systems         []int64 `json:"systems"`
		}{c.ConstellationID, c.Name, c.RegionID, u.systemsOf(id)}, true
	}))
	s.mux.HandleFunc("GET /universe/regions/{id}/{$}", s.lookup(func(id int64) (any, bool) {
		r, ok := u.region(id)
		if !ok {
			return nil, false
		}
		return struct {
			RegionID       int64   `json:"region_id"`
			Name           string  `json:"name"`
			Constellations []int64 `json:"constellations"`
		}{r.RegionID, r.Name, u.constellationsOf(id)}, true
	}))
	s.mux.HandleFunc("GET /universe/regions/{$}", func(w http.ResponseWriter, r *http.Request) {
		if s.fail(r) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ids := make([]int64, 0, len(u.Regions))
		for _, reg := range u.Regions {
			ids = append(ids, reg.RegionID)
		}
		writeJSON(w, ids)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Push queues packages for the feed.
func (s *Server) Push(pkgs ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, pkgs...)
}

// Pending returns how many packages are still queued.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetLatency delays every catalog response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Server) fail(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return false
}

func (s *Server) listen(w http.ResponseWriter, r *http.Request) {
	if s.fail(r) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s.mu.Lock()
	var pkg json.RawMessage
	if len(s.queue) > 0 {
		pkg = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	if pkg == nil {
		_, _ = w.Write([]byte(`{"package":null}`))
		return
	}
	writeJSON(w, struct {
		Package json.RawMessage `json:"package"`
	}{pkg})
}

func (s *Server) lookup(find func(id int64) (any, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.fail(r) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		s.mu.Lock()
		latency := s.latency
		s.mu.Unlock()
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}

		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"bad id"}`, http.StatusBadRequest)
			return
		}
		v, ok := find(id)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		writeJSON(w, v)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
