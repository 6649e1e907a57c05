package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/service"
)

// UserIDHeader carries the authenticated caller's user id. It is set by the
// authenticating proxy in front of this server.
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

// Server provides the JSON HTTP API.
type Server struct {
	svc    *service.Service
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, logger *logrus.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.recoverPanics(s.mux)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// API – Users
	s.mux.HandleFunc("POST /api/users", s.handleEnsureUser)
	s.mux.Handle("PUT /api/users/me/telegram", s.authed(s.handleLinkTelegram))

	// API – Lists
	s.mux.Handle("GET /api/lists", s.authed(s.handleGetLists))
	s.mux.Handle("POST /api/lists", s.authed(s.handleCreateList))
	s.mux.Handle("GET /api/lists/{id}", s.authed(s.handleViewList))
	s.mux.Handle("PUT /api/lists/{id}", s.authed(s.handleUpdateList))
	s.mux.Handle("DELETE /api/lists/{id}", s.authed(s.handleDeleteList))

	// API – Items
	s.mux.Handle("POST /api/lists/{id}/items", s.authed(s.handleAddItem))
	s.mux.Handle("PUT /api/lists/{id}/items/{itemId}", s.authed(s.handleUpdateItem))
	s.mux.Handle("DELETE /api/lists/{id}/items/{itemId}", s.authed(s.handleDeleteItem))

	// API – Sharing
	s.mux.Handle("GET /api/share/shared-with-me", s.authed(s.handleSharedWithMe))
	s.mux.Handle("POST /api/share/{listId}", s.authed(s.handleShareList))
	s.mux.Handle("DELETE /api/share/{listId}/viewers/{userId}", s.authed(s.handleUnshare))
	s.mux.Handle("GET /api/share/{listId}/pending", s.authed(s.handleGetPending))
	s.mux.Handle("DELETE /api/share/{listId}/pending/{email}", s.authed(s.handleCancelPending))

	// API – Claims
	s.mux.Handle("POST /api/share/claim/{listId}/{itemId}", s.authed(s.handleToggleClaim))
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// authed rejects requests without a caller id and stores it in the context.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			s.respondError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				}).Errorf("Panic in HTTP handler: %v", rec)
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.WithError(err).Error("failed to encode JSON response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"message": message})
}

// respondServiceError maps service errors onto status codes. Unknown errors
// are logged and reported as 500 with a generic message.
func (s *Server) respondServiceError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, service.ErrNotFoundOrNotShared):
		s.respondError(w, http.StatusNotFound, "List not found or not shared with you")
	case errors.Is(err, service.ErrItemNotFound):
		s.respondError(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, service.ErrAlreadyClaimedByOther):
		s.respondError(w, http.StatusBadRequest, "Item already claimed by someone else")
	case errors.Is(err, service.ErrListNotFound):
		s.respondError(w, http.StatusNotFound, "List not found")
	case errors.Is(err, service.ErrUserNotFound):
		s.respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrShareNotFound):
		s.respondError(w, http.StatusNotFound, "Share not found")
	case errors.Is(err, service.ErrShareWithSelf):
		s.respondError(w, http.StatusBadRequest, "Cannot share with yourself")
	case errors.Is(err, service.ErrAlreadyShared):
		s.respondError(w, http.StatusBadRequest, "List is already shared or pending with this user")
	case errors.Is(err, service.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithError(err).Errorf("failed to %s", what)
		s.respondError(w, http.StatusInternalServerError, "failed to "+what)
	}
}

// decodeJSON reads the request body into dst and returns an error message on
// failure.  The caller should return immediately when ok == false.
func (s *Server) decodeJSON(r *http.Request, dst any) (ok bool, errMsg string) {
	if r.Body == nil || r.ContentLength == 0 {
		return false, "request body is empty"
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}
	return true, ""
}

// parseEventDate accepts an empty string, a date (YYYY-MM-DD) or RFC 3339.
func parseEventDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("event_date must be YYYY-MM-DD or RFC 3339 format")
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type ensureUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type linkTelegramRequest struct {
	TelegramID int64 `json:"telegram_id"`
}

func (s *Server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req ensureUserRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := s.svc.EnsureUser(r.Context(), req.Email, req.Name)
	if err != nil {
		s.respondServiceError(w, err, "ensure user")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	var req linkTelegramRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := s.svc.LinkTelegram(r.Context(), callerID(r), req.TelegramID)
	if err != nil {
		s.respondServiceError(w, err, "link telegram account")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

type listRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	EventDate   string `json:"event_date"`
}

func (s *Server) handleGetLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.svc.ListsOwnedBy(r.Context(), callerID(r))
	if err != nil {
		s.respondServiceError(w, err, "get lists")
		return
	}
	if lists == nil {
		lists = []*models.WishList{}
	}
	s.respondJSON(w, http.StatusOK, lists)
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}
	eventDate, err := parseEventDate(req.EventDate)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.svc.CreateList(r.Context(), callerID(r), req.Name, req.Description, eventDate)
	if err != nil {
		s.respondServiceError(w, err, "create list")
		return
	}

	s.respondJSON(w, http.StatusCreated, list)
}

func (s *Server) handleViewList(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.ViewList(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.respondServiceError(w, err, "load list")
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}
	eventDate, err := parseEventDate(req.EventDate)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.svc.UpdateList(r.Context(), callerID(r), r.PathValue("id"), req.Name, req.Description, eventDate)
	if err != nil {
		s.respondServiceError(w, err, "update list")
		return
	}

	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteList(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		s.respondServiceError(w, err, "delete list")
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

type itemRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Link        string   `json:"link"`
	Price       *float64 `json:"price"`
	Priority    *int     `json:"priority"`
}

func (req itemRequest) input() service.ItemInput {
	return service.ItemInput{
		Title:       req.Title,
		Description: req.Description,
		Link:        req.Link,
		Price:       req.Price,
		Priority:    req.Priority,
	}
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	item, err := s.svc.AddItem(r.Context(), callerID(r), r.PathValue("id"), req.input())
	if err != nil {
		s.respondServiceError(w, err, "add item")
		return
	}

	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	item, err := s.svc.UpdateItem(r.Context(), callerID(r), r.PathValue("id"), r.PathValue("itemId"), req.input())
	if err != nil {
		s.respondServiceError(w, err, "update item")
		return
	}

	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteItem(r.Context(), callerID(r), r.PathValue("id"), r.PathValue("itemId")); err != nil {
		s.respondServiceError(w, err, "delete item")
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Sharing
// ---------------------------------------------------------------------------

type shareRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleShareList(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := s.svc.ShareList(r.Context(), callerID(r), r.PathValue("listId"), req.Email)
	if err != nil {
		s.respondServiceError(w, err, "share list")
		return
	}

	if result.Pending != nil {
		s.respondJSON(w, http.StatusCreated, map[string]any{
			"message": "Share pending. They will get access when they sign up!",
			"pending": result.Pending,
		})
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"message": "List shared successfully",
		"viewer":  result.Viewer,
	})
}

func (s *Server) handleUnshare(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unshare(r.Context(), callerID(r), r.PathValue("listId"), r.PathValue("userId")); err != nil {
		s.respondServiceError(w, err, "remove share")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Sharing removed successfully"})
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.PendingShares(r.Context(), callerID(r), r.PathValue("listId"))
	if err != nil {
		s.respondServiceError(w, err, "get pending shares")
		return
	}
	if pending == nil {
		pending = []*models.PendingShare{}
	}
	s.respondJSON(w, http.StatusOK, pending)
}

func (s *Server) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelPendingShare(r.Context(), callerID(r), r.PathValue("listId"), r.PathValue("email")); err != nil {
		s.respondServiceError(w, err, "cancel pending share")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Pending share removed"})
}

func (s *Server) handleSharedWithMe(w http.ResponseWriter, r *http.Request) {
	lists, err := s.svc.ListsSharedWith(r.Context(), callerID(r))
	if err != nil {
		s.respondServiceError(w, err, "get shared lists")
		return
	}
	if lists == nil {
		lists = []*models.WishList{}
	}
	s.respondJSON(w, http.StatusOK, lists)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func (s *Server) handleToggleClaim(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.ToggleClaim(r.Context(), r.PathValue("listId"), r.PathValue("itemId"), callerID(r))
	if err != nil {
		s.respondServiceError(w, err, "toggle claim")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
