package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// maxJSONBody caps JSON request bodies; mappings are small.
const maxJSONBody = 1 << 20

// createImportRequest holds the form fields of an upload.
type createImportRequest struct {
	ImportType string `validate:"required,max=64"`
	FileName   string `validate:"required,max=255"`
}

// updateMappingRequest confirms the header chosen for each expected field.
// An empty header leaves the field unmapped.
type updateMappingRequest struct {
	Mapping map[string]string `json:"mapping" validate:"required,dive,keys,required,max=64,endkeys,max=255"`
}

func (req updateMappingRequest) toMapping() core.Mapping {
	m := make(core.Mapping, len(req.Mapping))
	for field, header := range req.Mapping {
		m[core.Field(field)] = header
	}
	return m
}

// processRequest holds the query parameters of POST /{jobID}/process.
type processRequest struct {
	Wait bool
}

func parseProcessRequest(r *http.Request) (processRequest, error) {
	var req processRequest
	if v := r.URL.Query().Get("wait"); v != "" {
		wait, err := strconv.ParseBool(v)
		if err != nil {
			return req, badRequest("wait must be true or false, got %q", v)
		}
		req.Wait = wait
	}
	return req, nil
}

// decodeJSON reads a JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed JSON body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return invalidFields(err)
	}
	return nil
}

// jobIDParam parses the {jobID} path parameter.
func jobIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("job id %q is not a UUID", raw)
	}
	return id, nil
}

// importTypeParam parses the {importType} path parameter.
func importTypeParam(r *http.Request) (core.ImportType, error) {
	t, err := core.ParseImportType(chi.URLParam(r, "importType"))
	if err != nil {
		return "", fmt.Errorf("template: %w", err)
	}
	return t, nil
}
