package http

import (
	"net/http"
	"strconv"
	"strings"
)

type RouterConfig struct {
	Security   *SecurityHandler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Security != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Security.Status(w, r)
		})
		mux.HandleFunc("/arm", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Security.Arm(w, r)
		})
		mux.HandleFunc("/disarm", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Security.Disarm(w, r)
		})
		mux.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Security.Panic(w, r)
		})
		mux.HandleFunc("/password", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Security.ChangePassword(w, r)
		})
		mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Security.Events(w, r)
		})
		mux.HandleFunc("/cameras/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.TrimPrefix(r.URL.Path, "/cameras/")
			rawID, action, ok := strings.Cut(rest, "/")
			if !ok || action != "view" {
				http.NotFound(w, r)
				return
			}
			id, err := strconv.Atoi(rawID)
			if err != nil {
				id = 0
			}
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			ctx := ContextWithCameraID(r.Context(), id)
			cfg.Security.ViewCamera(w, r.WithContext(ctx))
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
