package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/classes"
	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
)

// ClassHandlers serves class management and enrollment.
type ClassHandlers struct {
	classes *classes.Service
	authn   *middleware.Authenticator
	audit   *auth.AuditLogger
}

// NewClassHandlers creates class handlers.
func NewClassHandlers(svc *classes.Service, authn *middleware.Authenticator, audit *auth.AuditLogger) *ClassHandlers {
	return &ClassHandlers{
		classes: svc,
		authn:   authn,
		audit:   audit,
	}
}

// RegisterRoutes registers class routes
func (h *ClassHandlers) RegisterRoutes(router *mux.Router) {
	// Anyone holding a code may check it before signing in
	router.HandleFunc("/api/classes/validate-code", h.validateCode).Methods("POST")

	sub := router.PathPrefix("/api/classes").Subrouter()
	sub.Use(h.authn.Handler)

	sub.HandleFunc("", h.createClass).Methods("POST")
	sub.HandleFunc("/", h.createClass).Methods("POST")
	sub.HandleFunc("", h.listClasses).Methods("GET")
	sub.HandleFunc("/", h.listClasses).Methods("GET")
	sub.HandleFunc("/join", h.joinClass).Methods("POST")
	sub.HandleFunc("/{id:[0-9]+}", h.getClass).Methods("GET")
	sub.HandleFunc("/{id:[0-9]+}", h.updateClass).Methods("PUT")
	sub.HandleFunc("/{id:[0-9]+}", h.deleteClass).Methods("DELETE")
	sub.HandleFunc("/{id:[0-9]+}/regenerate-code", h.regenerateCode).Methods("POST")
	sub.HandleFunc("/{id:[0-9]+}/students", h.listStudents).Methods("GET")
	sub.HandleFunc("/{id:[0-9]+}/invite", h.inviteStudents).Methods("POST")
}

// createClass handles POST /api/classes
func (h *ClassHandlers) createClass(w http.ResponseWriter, r *http.Request) {
	var req classes.CreateRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	caller := middleware.CurrentUser(r)
	class, err := h.classes.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, caller, "class.create", "class", strconv.FormatInt(class.ID, 10), nil)
	httputil.WriteCreated(w, class)
}

// listClasses handles GET /api/classes
func (h *ClassHandlers) listClasses(w http.ResponseWriter, r *http.Request) {
	list, err := h.classes.List(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []classes.ClassWithStats{}
	}
	httputil.WriteSuccess(w, list)
}

// getClass handles GET /api/classes/{id}
func (h *ClassHandlers) getClass(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	class, err := h.classes.Get(r.Context(), middleware.CurrentUser(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, class)
}

// updateClass handles PUT /api/classes/{id}
func (h *ClassHandlers) updateClass(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req classes.UpdateRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	caller := middleware.CurrentUser(r)
	class, err := h.classes.Update(r.Context(), caller, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, caller, "class.update", "class", strconv.FormatInt(id, 10), nil)
	httputil.WriteSuccess(w, class)
}

// deleteClass handles DELETE /api/classes/{id}
func (h *ClassHandlers) deleteClass(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	caller := middleware.CurrentUser(r)
	if err := h.classes.Delete(r.Context(), caller, id); err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, caller, "class.delete", "class", strconv.FormatInt(id, 10), nil)
	w.WriteHeader(http.StatusNoContent)
}

// regenerateCode handles POST /api/classes/{id}/regenerate-code
func (h *ClassHandlers) regenerateCode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	caller := middleware.CurrentUser(r)
	class, err := h.classes.RegenerateCode(r.Context(), caller, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, caller, "class.regenerate_code", "class", strconv.FormatInt(id, 10), nil)
	httputil.WriteSuccess(w, class)
}

// validateCode handles POST /api/classes/validate-code
func (h *ClassHandlers) validateCode(w http.ResponseWriter, r *http.Request) {
	var req classes.JoinCodeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	info, err := h.classes.ValidateCode(r.Context(), req.JoinCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, info)
}

// joinClass handles POST /api/classes/join
func (h *ClassHandlers) joinClass(w http.ResponseWriter, r *http.Request) {
	var req classes.JoinCodeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	class, err := h.classes.Join(r.Context(), middleware.CurrentUser(r), req.JoinCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"success":    true,
		"class_id":   class.ID,
		"class_name": class.Name,
	})
}

// listStudents handles GET /api/classes/{id}/students
func (h *ClassHandlers) listStudents(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	students, err := h.classes.Students(r.Context(), middleware.CurrentUser(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if students == nil {
		students = []classes.StudentProgress{}
	}
	httputil.WriteSuccess(w, students)
}

// inviteStudents handles POST /api/classes/{id}/invite
func (h *ClassHandlers) inviteStudents(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req classes.InviteRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	caller := middleware.CurrentUser(r)
	result, err := h.classes.Invite(r.Context(), caller, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, caller, "class.invite", "class", strconv.FormatInt(id, 10), nil)
	httputil.WriteSuccess(w, result)
}
