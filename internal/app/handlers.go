package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type channelResponse struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Private      bool      `json:"private"`
	PackageCount int64     `json:"package_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type packageResponse struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Platform   string    `json:"platform"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type createChannelRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=512"`
	Private     bool   `json:"private"`
}

type createPackageRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=128"`
	Version  string `json:"version" validate:"required,min=1,max=64"`
	Platform string `json:"platform" validate:"omitempty,max=32"`
}

func (a *App) listPlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"enabled": a.cfg.Plugins.Enabled})
}

func (a *App) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := daoFromContext(r.Context()).ListChannels(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannelResponse(ch))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *App) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var ownerID string
	if u := a.userFromRequest(r); u != nil {
		ownerID = u.ID
	}

	ch, err := daoFromContext(r.Context()).CreateChannel(r.Context(), req.Name, req.Description, req.Private, ownerID)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		respondError(w, http.StatusConflict, "channel already exists")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toChannelResponse(*ch))
}

func (a *App) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := daoFromContext(r.Context()).GetChannel(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "channel not found")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChannelResponse(*ch))
}

func (a *App) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := daoFromContext(r.Context()).ListPackages(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "channel not found")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	}
	out := make([]packageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, packageResponse{
			Name:       p.Name,
			Version:    p.Version,
			Platform:   p.Platform,
			UploadedAt: p.UploadedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *App) createPackage(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := daoFromContext(r.Context()).CreatePackage(
		r.Context(), chi.URLParam(r, "name"), req.Name, req.Version, req.Platform)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "channel not found")
		return
	case errors.Is(err, store.ErrDuplicate):
		respondError(w, http.StatusConflict, "package version already exists")
		return
	case err != nil:
		a.serverError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, packageResponse{
		Name:       p.Name,
		Version:    p.Version,
		Platform:   p.Platform,
		UploadedAt: p.UploadedAt,
	})
}

func toChannelResponse(ch store.Channel) channelResponse {
	return channelResponse{
		Name:         ch.Name,
		Description:  ch.Description,
		Private:      ch.Private,
		PackageCount: ch.PackageCount,
		CreatedAt:    ch.CreatedAt,
	}
}

func (a *App) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON parses and validates a request body, writing the error response
// itself when the payload is bad. Returns true when req is usable.
func decodeJSON(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}
