package httpapi

import (
	"fmt"
	"net/http"

	"github.com/learnaware/tutor/internal/conversations"
)

type saveConversationsRequest struct {
	UserEmail     string                  `json:"user_email" validate:"required,email"`
	Conversations []conversations.Session `json:"conversations" validate:"dive"`
}

func (s *Server) handleSaveConversations(w http.ResponseWriter, r *http.Request) {
	var req saveConversationsRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	res, err := s.deps.Conversations.Save(r.Context(), req.UserEmail, req.Conversations)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, dataResponse{Data: res, Message: "Conversations saved successfully."})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Conversations.List(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if list == nil {
		list = []conversations.Conversation{}
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: list})
}

func (s *Server) handleListSessionIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Conversations.SessionIDs(r.Context(), pathParam(r, "email"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: ids})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Conversations.Get(r.Context(), pathParam(r, "email"), pathParam(r, "sessionID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: c})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "sessionID")
	if err := s.deps.Conversations.Delete(r.Context(), pathParam(r, "email"), sessionID); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{
		Data:    sessionID,
		Message: fmt.Sprintf("Conversation with session_id %s deleted successfully", sessionID),
	})
}

func (s *Server) handleFindBySession(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Conversations.FindBySession(r.Context(), pathParam(r, "sessionID"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: list})
}

func (s *Server) handleDeleteBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "sessionID")
	n, err := s.deps.Conversations.DeleteBySession(r.Context(), sessionID)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{
		Data:    map[string]any{"deleted_count": n},
		Message: fmt.Sprintf("All conversations for session ID %s deleted successfully.", sessionID),
	})
}
