package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/chat"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/llm/retrieval"
	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/observability"
)

// Error bodies. Internal failures never carry detail.
const (
	msgAuthRequired = "Authentication required"
	msgMessageReq   = "Message is required"
	msgTitleReq     = "Title is required"
	msgInvalidJSON  = "Invalid JSON"
	msgNotFound     = "Conversation not found"
	msgQueryReq     = "Query is required"
	msgSearchOff    = "Document search is not configured"
	msgSearchFailed = "Document search failed"
	msgInternal     = "Internal server error"
)

// assistantUser is attached to assistant messages
var assistantUser = UserView{Name: "ChatWithMe AI", Email: "ai@chatwithme.com"}

// ChatRequest represents an incoming chat request. chatId is accepted as an
// alias for conversationId.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	ChatID         string `json:"chatId,omitempty"`
	Model          string `json:"model,omitempty"`
}

// UserView is the public part of a session
type UserView struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
}

// MessageView is one chat turn as rendered by the UI
type MessageView struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
	User      UserView  `json:"user"`
}

// ChatResponse is the body of a successful POST /chat
type ChatResponse struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversationId"`
	ChatID         string        `json:"chatId"`
	Messages       []MessageView `json:"messages"`
	ModelUsed      llm.ModelID   `json:"modelUsed"`
	Fallback       bool          `json:"fallback"`
	User           UserView      `json:"user"`
}

// HistoryResponse is the body of GET /chat/history
type HistoryResponse struct {
	Success bool             `json:"success"`
	Chats   []memory.Summary `json:"chats"`
	User    UserView         `json:"user"`
}

// ConversationResponse is the body of GET /chat/{id}
type ConversationResponse struct {
	Success      bool                `json:"success"`
	Conversation memory.Conversation `json:"conversation"`
	Messages     []MessageView       `json:"messages"`
}

// ModelsResponse is the body of GET /models
type ModelsResponse struct {
	Success bool            `json:"success"`
	Models  []llm.ModelInfo `json:"models"`
	Default llm.ModelID     `json:"default"`
}

// PreferencesResponse is the body of GET and PUT /preferences
type PreferencesResponse struct {
	Success     bool               `json:"success"`
	Preferences memory.Preferences `json:"preferences"`
}

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse is the body of a successful POST /search
type SearchResponse struct {
	Success   bool                 `json:"success"`
	Documents []retrieval.Document `json:"documents"`
}

// CleanupResponse is the body of POST /chat/cleanup
type CleanupResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type cleanupRequest struct {
	Keep *int `json:"keep"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func userView(s *auth.Session) UserView {
	v := UserView{Name: s.Name, Email: s.Email}
	if s.Image != "" {
		img := s.Image
		v.Image = &img
	}
	return v
}

func messageView(m memory.Message, owner UserView) MessageView {
	v := MessageView{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		Sender:    m.Role,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Model:     m.Model,
		User:      owner,
	}
	if m.Role == memory.RoleAssistant {
		v.User = assistantUser
	}
	return v
}

// healthHandler provides a health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// modelsHandler lists the model catalog with configuration state
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Success: true,
		Models:  s.catalog.Models(),
		Default: s.catalog.Default(),
	})
}

// sendHandler handles POST /chat
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if session == nil {
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = req.ChatID
	}

	resp, err := s.chat.Send(r.Context(), session, chat.SendRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Model:          req.Model,
	})
	if err != nil {
		s.serviceError(w, r, err, msgMessageReq)
		return
	}

	owner := userView(session)
	writeJSON(w, http.StatusOK, ChatResponse{
		Success:        true,
		ConversationID: resp.ConversationID,
		ChatID:         resp.ConversationID,
		Messages:       []MessageView{messageView(resp.User, owner), messageView(resp.Assistant, owner)},
		ModelUsed:      resp.ModelUsed,
		Fallback:       resp.Fallback,
		User:           owner,
	})
}

// historyHandler handles GET /chat/history
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	sums, err := s.chat.History(r.Context(), session)
	if err != nil {
		s.serviceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, Chats: sums, User: userView(session)})
}

// conversationHandler handles GET /chat/{id}
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	thread, err := s.chat.Conversation(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, r, err, "")
		return
	}

	owner := userView(session)
	msgs := make([]MessageView, len(thread.Messages))
	for i, m := range thread.Messages {
		msgs[i] = messageView(m, owner)
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Success: true, Conversation: thread.Conversation, Messages: msgs})
}

// renameHandler handles PATCH /chat/{id}
func (s *Server) renameHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if session == nil {
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
		return
	}
	var req renameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.chat.Rename(r.Context(), session, chi.URLParam(r, "id"), req.Title); err != nil {
		s.serviceError(w, r, err, msgTitleReq)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// deleteHandler handles DELETE /chat/{id}
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if err := s.chat.Delete(r.Context(), session, chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// cleanupHandler handles POST /chat/cleanup. keep defaults to
// memory.DefaultKeepConversations.
func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if session == nil {
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
		return
	}
	var req cleanupRequest
	if !s.decode(w, r, &req) {
		return
	}
	keep := memory.DefaultKeepConversations
	if req.Keep != nil {
		keep = *req.Keep
	}
	n, err := s.chat.Cleanup(r.Context(), session, keep)
	if err != nil {
		s.serviceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Success: true, Deleted: n})
}

// preferencesHandler handles GET /preferences
func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.chat.Preferences(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		s.serviceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{Success: true, Preferences: *prefs})
}

// updatePreferencesHandler handles PUT /preferences
func (s *Server) updatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if session == nil {
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
		return
	}
	var req memory.PreferencesUpdate
	if !s.decode(w, r, &req) {
		return
	}
	prefs, err := s.chat.UpdatePreferences(r.Context(), session, req)
	if err != nil {
		s.serviceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, PreferencesResponse{Success: true, Preferences: *prefs})
}

// searchHandler handles POST /search against the retrieval backend
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if session == nil {
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
		return
	}
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}

	docs, err := s.chat.Search(r.Context(), session, req.Query, req.Limit)
	switch {
	case errors.Is(err, chat.ErrSearchUnavailable):
		s.writeError(w, r, msgSearchOff, http.StatusServiceUnavailable)
		return
	case err != nil:
		if llmErr, ok := llm.IsLLMError(err); ok {
			requestID, _ := observability.RequestIDFromContext(r.Context())
			s.log.WithError(err).WithFields(logrus.Fields{
				"request_id": requestID,
				"error_type": llmErr.Type,
			}).Warn("Document search failed")
			s.writeError(w, r, msgSearchFailed, http.StatusBadGateway)
			return
		}
		s.serviceError(w, r, err, msgQueryReq)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Success: true, Documents: docs})
}

// decode reads a JSON body into v, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, msgInvalidJSON, http.StatusBadRequest)
		return false
	}
	return true
}

// serviceError maps chat errors to status codes. invalidMsg is the body
// used for chat.ErrInvalidRequest.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error, invalidMsg string) {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		s.writeError(w, r, msgAuthRequired, http.StatusUnauthorized)
	case errors.Is(err, chat.ErrInvalidRequest):
		if invalidMsg == "" {
			invalidMsg = err.Error()
		}
		s.writeError(w, r, invalidMsg, http.StatusBadRequest)
	case errors.Is(err, chat.ErrNotFound):
		s.writeError(w, r, msgNotFound, http.StatusNotFound)
	default:
		requestID, _ := observability.RequestIDFromContext(r.Context())
		s.log.WithError(err).WithField("request_id", requestID).Error("Request failed")
		s.metrics.RecordError("internal", map[string]string{"route": chi.RouteContext(r.Context()).RoutePattern()})
		s.writeError(w, r, msgInternal, http.StatusInternalServerError)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, message string, code int) {
	writeJSON(w, code, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
