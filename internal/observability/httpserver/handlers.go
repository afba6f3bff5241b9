package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cruise/internal/manager"
	rtsup "cruise/internal/runtime/supervisor"
	logx "cruise/pkg/logx"
)

// StatusResponse is the /status body.
type StatusResponse struct {
	Server  manager.ServerSnapshot    `json:"server"`
	Queues  []string                  `json:"queue_names"`
	Runtime map[string]rtsup.Snapshot `json:"runtime,omitempty"`
}

// ForceRequest is the optional JSON body of POST /projects/{name}/force.
type ForceRequest struct {
	Source     string            `json:"source,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ActionResponse answers the project control endpoints.
type ActionResponse struct {
	Project string `json:"project"`
	Action  string `json:"action"`
	Applied bool   `json:"applied"`
}

// Handler returns the endpoint mux for cfg without binding a listener.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	return s.handler(cur)
}

func (s *Service) handler(cur Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }

	// Liveness stays unauthenticated so supervisors can probe it.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", wrap(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	}

	if c := s.deps.Controller; c != nil {
		mux.HandleFunc("GET /status", wrap(s.status))
		mux.HandleFunc("POST /projects/{name}/force", wrap(s.force))
		mux.HandleFunc("POST /projects/{name}/abort", wrap(s.action("abort", c.AbortBuild)))
		mux.HandleFunc("POST /projects/{name}/cancel", wrap(s.action("cancel", c.CancelPendingRequest)))
	}

	if cur.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Controller
	resp := StatusResponse{
		Server: c.GetCruiseServerSnapshot(),
		Queues: c.GetQueueNames(),
	}
	if len(s.deps.Runtime) > 0 {
		resp.Runtime = make(map[string]rtsup.Snapshot, len(s.deps.Runtime))
		for name, sup := range s.deps.Runtime {
			resp.Runtime[name] = sup.Snapshot()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) force(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body ForceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if strings.TrimSpace(body.Source) == "" {
		body.Source = "http"
	}
	if err := s.deps.Controller.ForceBuild(name, body.Source, body.Parameters); err != nil {
		s.fail(w, name, err)
		return
	}
	s.log.Info("force build requested", logx.Project(name), logx.String("source", body.Source))
	writeJSON(w, http.StatusAccepted, ActionResponse{Project: name, Action: "force", Applied: true})
}

func (s *Service) action(verb string, fn func(string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		ok, err := fn(name)
		if err != nil {
			s.fail(w, name, err)
			return
		}
		s.log.Info("project action", logx.Project(name), logx.String("action", verb), logx.Bool("applied", ok))
		writeJSON(w, http.StatusOK, ActionResponse{Project: name, Action: verb, Applied: ok})
	}
}

func (s *Service) fail(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, manager.ErrUnknownProject) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.log.Warn("project action failed", logx.Project(name), logx.Err(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
