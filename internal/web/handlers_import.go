package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/JonMunkholm/repoimport/internal/sheet"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var importIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// importForm is the decoded multipart import request.
type importForm struct {
	RepositoryID int64  `json:"repository_id"`
	FileName     string `json:"file"`
	Data         []byte `json:"file_data"`
	Mapping      string `json:"mapping"`
	ActorID      int64  `json:"actor_id"`
	ImportID     string `json:"import_id"`
	Preview      bool   `json:"preview"`

	OverwriteWithEmpty *bool `json:"overwrite_with_empty"`
}

func (f *importForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.RepositoryID, validation.Required, validation.Min(int64(1))),
		validation.Field(&f.FileName, validation.Required),
		validation.Field(&f.Data, validation.Required.Error("file is empty")),
		validation.Field(&f.Mapping, validation.Required),
		validation.Field(&f.ActorID,
			validation.Required.Error("the "+actorHeader+" header is required"),
			validation.Min(int64(1)),
		),
		validation.Field(&f.ImportID,
			validation.Length(1, 64),
			validation.Match(importIDPattern).Error("may only contain letters, digits, '-' and '_'"),
		),
	)
}

// mappingMarker accepts a marker written as a JSON string or number.
type mappingMarker string

func (m *mappingMarker) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = mappingMarker(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("mapping marker must be a string or a number, got %s", b)
	}
	*m = mappingMarker(n.String())
	return nil
}

// parseMappingField decodes the mapping form field: either an array of
// markers in column order or an object of column index -> marker.
func parseMappingField(raw string) (core.Mapping, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var byIndex map[string]mappingMarker
		if err := json.Unmarshal([]byte(raw), &byIndex); err != nil {
			return nil, fmt.Errorf("invalid mapping: %w", err)
		}
		markers := make(map[int]string, len(byIndex))
		for key, marker := range byIndex {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				return nil, fmt.Errorf("invalid mapping: column index %q is not a number", key)
			}
			markers[idx] = string(marker)
		}
		return core.MappingFromIndex(markers)
	}

	var list []mappingMarker
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	markers := make([]string, len(list))
	for i, m := range list {
		markers[i] = string(m)
	}
	return core.ParseMapping(markers)
}

// handleImport imports or previews an uploaded spreadsheet.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	repositoryID, err := strconv.ParseInt(chi.URLParam(r, "repositoryID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid repository id")
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("file too large: limit is %d bytes", maxSize), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errors.New("no file provided"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read file")
		return
	}

	actorID, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid "+actorHeader+" header")
		return
	}

	form := &importForm{
		RepositoryID: repositoryID,
		FileName:     header.Filename,
		Data:         data,
		Mapping:      r.FormValue("mapping"),
		ActorID:      actorID,
		ImportID:     r.FormValue("import_id"),
	}
	if raw := r.FormValue("preview"); raw != "" {
		if form.Preview, err = strconv.ParseBool(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "preview must be a boolean")
			return
		}
	}
	if raw := r.FormValue("overwrite_with_empty"); raw != "" {
		overwrite, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "overwrite_with_empty must be a boolean")
			return
		}
		form.OverwriteWithEmpty = &overwrite
	}
	if err := form.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	mapping, err := parseMappingField(form.Mapping)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := sheet.Read(form.FileName, form.Data)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if limit := s.cfg.Import.MaxRows; limit > 0 && len(rows)-1 > limit {
		writeError(w, r, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file has %d data rows, the limit is %d", len(rows)-1, limit))
		return
	}

	// The batch outlives a dropped connection; DELETE /api/imports/{id} stops it.
	ctx := context.WithoutCancel(r.Context())
	ctx = WithRequestMetadata(ctx, r)
	ctx = core.ContextWithActor(ctx, form.ActorID)

	report, err := s.service.Import(ctx, core.ImportRequest{
		ImportID:           form.ImportID,
		RepositoryID:       form.RepositoryID,
		Mapping:            mapping,
		Rows:               rows,
		ActorID:            form.ActorID,
		Preview:            form.Preview,
		OverwriteWithEmpty: form.OverwriteWithEmpty,
	})
	if err != nil {
		if report == nil {
			respondError(w, r, err, statusFor(err))
			return
		}
		// Mapping conflicts and cancelled batches still carry a report.
		report.Status = core.ReportError
		if report.Error == "" {
			report.Error = core.FormatUserError(err)
		}
		writeJSONStatus(w, statusFor(err), report)
		return
	}

	writeJSON(w, report)
}

// handleColumns lists the columns an import can target.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	repositoryID, err := strconv.ParseInt(chi.URLParam(r, "repositoryID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid repository id")
		return
	}

	cols, err := s.service.ImportableColumns(r.Context(), repositoryID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, map[string]any{
		"repository_id": repositoryID,
		"columns":       cols,
	})
}

// handleActiveImports lists running imports and slot usage.
func (s *Server) handleActiveImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"imports": s.service.ActiveImports(),
		"limiter": s.service.LimiterStatus(),
	})
}

// handleCancelImport stops a running import between rows.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	if err := s.service.CancelImport(importID); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"import_id": importID,
		"status":    "cancelling",
	})
}

// handleHealth reports liveness and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}
