package httpapi

import (
	"fmt"
	"net/http"

	"github.com/learnaware/tutor/internal/users"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Users.List(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: list, Message: "Users retrieved successfully."})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg users.Registration
	if err := s.decodeValid(r, &reg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	u, err := s.deps.Users.Create(r.Context(), reg)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, dataResponse{Data: u, Message: "User created successfully."})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Users.FindByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: u})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd users.Update
	if err := s.decodeValid(r, &upd); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	u, modified, err := s.deps.Users.Update(r.Context(), pathParam(r, "email"), upd)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	msg := "User updated successfully."
	if !modified {
		msg = "No changes were made to the user."
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: u, Message: msg})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	email := pathParam(r, "email")
	if err := s.deps.Users.Delete(r.Context(), email); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{Data: email, Message: "User deleted successfully."})
}

func (s *Server) handleDeleteAllUsers(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Users.DeleteAll(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dataResponse{
		Data:    fmt.Sprintf("Deleted %d users successfully.", n),
		Message: "All users deleted successfully.",
	})
}
