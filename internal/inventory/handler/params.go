package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
)

// idParam reads a UUID path parameter
func idParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		return "", errors.InvalidArgument(name, "must be a valid UUID")
	}
	return raw, nil
}

// staffID returns the caller identity, which must be a UUID
func staffID(r *http.Request) (string, error) {
	id := httputil.GetStaffID(r.Context())
	if id == "" {
		return "", errors.BadRequest("X-User-ID header is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.InvalidArgument("X-User-ID", "must be a valid UUID")
	}
	return id, nil
}

// optionalStaffID is staffID for endpoints that accept anonymous callers
func optionalStaffID(r *http.Request) (string, error) {
	if httputil.GetStaffID(r.Context()) == "" {
		return "", nil
	}
	return staffID(r)
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.InvalidArgument(name, "must be an integer")
	}
	return v, nil
}

func boolQuery(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v := raw == "true"
	return &v
}

func timeQuery(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.InvalidArgument(name, "must be an RFC3339 timestamp")
	}
	return &t, nil
}

// pagination reads page and per_page, defaulting to 1 and 50
func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}
	return page, perPage
}
