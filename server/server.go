// Package server exposes the catalog over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arctic-iceberg/catalog"
	"arctic-iceberg/parser"
	"arctic-iceberg/table"
)

const maxDocumentBytes = 16 << 20

// Catalog is the part of *catalog.Catalog the API serves.
type Catalog interface {
	ListTables(ctx context.Context) ([]string, error)
	MetadataJSON(ctx context.Context, name string) ([]byte, error)
	RegisterTable(ctx context.Context, name string, doc []byte) (*table.Table, error)
	LoadTable(ctx context.Context, name string) (*table.Table, error)
}

// Handler returns a chi router with the catalog REST API.
//
//	GET  /v1/tables                   list table names
//	GET  /v1/tables/{name}            raw metadata document
//	POST /v1/tables/{name}            register a table from a metadata document
//	POST /v1/tables/{name}/properties set and remove table properties
//	GET  /metrics                     prometheus metrics
func Handler(cat Catalog, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/tables", listTables(cat, logger))
	r.Get("/v1/tables/{name}", getTable(cat, logger))
	r.Post("/v1/tables/{name}", registerTable(cat, logger))
	r.Post("/v1/tables/{name}/properties", updateProperties(cat, logger))

	return r
}

func listTables(cat Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := cat.ListTables(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": names, "count": len(names)})
	}
}

func getTable(cat Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cat.MetadataJSON(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
	}
}

func registerTable(cat Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body: " + err.Error()})
			return
		}
		if _, err := cat.RegisterTable(r.Context(), name, doc); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "table": name})
	}
}

type propertiesRequest struct {
	Updates  map[string]string `json:"updates"`
	Removals []string          `json:"removals"`
}

func updateProperties(cat Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req propertiesRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}

		tbl, err := cat.LoadTable(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		u, err := tbl.UpdateProperties(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		for k, v := range req.Updates {
			u.Set(k, v)
		}
		for _, k := range req.Removals {
			u.Remove(k)
		}

		md, err := tbl.Commit(r.Context(), u)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"properties": md.Properties()})
	}
}

func statusOf(err error) int {
	var perr *parser.Error
	switch {
	case errors.Is(err, catalog.ErrNoSuchTable):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrTableExists), errors.Is(err, table.ErrCommitConflict):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
