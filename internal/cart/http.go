package cart

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"GoMarketplace/pkg/kit"
)

const readyTimeout = 1 * time.Second

// Server exposes the cart to views over HTTP. The store itself comes from
// the request context, installed by Scope.
type Server struct {
	Log *zap.Logger
}

type productsResp struct {
	Products []LineItem `json:"products"`
}

type itemOp func(s *Store, ctx context.Context, id string) error

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	st, err := FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		s.Log.Warn("readyz failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	st, err := FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, productsResp{Products: st.Products()})
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	st, err := FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var p Product
	if err := kit.DecodeJSON(w, r, &p); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	if err := st.AddToCart(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, productsResp{Products: st.Products()})
}

func (s *Server) apply(op itemOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := FromContext(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		id, err := itemID(r)
		if err != nil {
			kit.WriteError(w, r, http.StatusBadRequest, "bad item id", map[string]any{"cause": err.Error()})
			return
		}

		if err := op(st, r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		kit.WriteJSON(w, http.StatusOK, productsResp{Products: st.Products()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidItem):
		kit.WriteError(w, r, http.StatusBadRequest, "invalid item", map[string]any{"cause": err.Error()})
	case errors.Is(err, ErrItemNotFound):
		id, _ := itemID(r)
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
	case errors.Is(err, ErrPersistence):
		s.Log.Error("cart unavailable", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "cart unavailable", nil)
	case errors.Is(err, ErrClosed):
		kit.WriteError(w, r, http.StatusServiceUnavailable, "cart closed", nil)
	case isTimeoutErr(err):
		kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", nil)
	case errors.Is(err, ErrNoStore):
		s.Log.Error("handler outside cart scope", zap.String("path", r.URL.Path))
		kit.WriteError(w, r, http.StatusInternalServerError, "no cart store", nil)
	default:
		s.Log.Error("cart request failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

// itemID returns the decoded {id} segment. chi matches on RawPath when the
// client escaped it, so ids containing "/" arrive still escaped.
func itemID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
