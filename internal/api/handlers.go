package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/lead-mailer/internal/campaign"
	"github.com/sells-group/lead-mailer/internal/parser"
)

//go:embed direct_send.schema.json
var directSendSchema []byte

func compileDirectSendSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("direct_send.schema.json", bytes.NewReader(directSendSchema)); err != nil {
		return nil, eris.Wrap(err, "api: add direct send schema")
	}
	schema, err := c.Compile("direct_send.schema.json")
	if err != nil {
		return nil, eris.Wrap(err, "api: compile direct send schema")
	}
	return schema, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.opts.Version})
}

type unsubscribeResponse struct {
	Email      string `json:"email"`
	Suppressed bool   `json:"suppressed"`
}

func (s *server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	added, err := s.svc.Unsubscribe(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unsubscribeResponse{Email: email, Suppressed: added})
}

func (s *server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Expected multipart form with files")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	var uploads []parser.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			s.fail(w, r, eris.Wrapf(err, "api: open upload %s", fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close() //nolint:errcheck
		if err != nil {
			s.fail(w, r, eris.Wrapf(err, "api: read upload %s", fh.Filename))
			return
		}
		uploads = append(uploads, parser.Upload{Filename: fh.Filename, Data: data})
	}

	tone := r.URL.Query().Get("tone")
	if tone == "" {
		tone = r.FormValue("tone")
	}

	res, err := s.svc.Prepare(r.Context(), uploads, tone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// sendBody mirrors campaign.SendRequest; dry_run defaults to true.
type sendBody struct {
	PrepareID string `json:"prepare_id"`
	DryRun    *bool  `json:"dry_run"`
	Tone      string `json:"tone"`
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(body.PrepareID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "prepare_id is required")
		return
	}
	dryRun := true
	if body.DryRun != nil {
		dryRun = *body.DryRun
	}

	res, err := s.svc.Send(r.Context(), campaign.SendRequest{
		PrepareID: body.PrepareID,
		DryRun:    dryRun,
		Tone:      body.Tone,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	JobID   string          `json:"job_id"`
	Kind    string          `json:"kind"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Result  json.RawMessage `json:"result"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result := job.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:   job.ID,
		Kind:    string(job.Kind),
		Status:  string(job.Status),
		Payload: job.Payload,
		Result:  result,
	})
}

// directBody is the validated direct-send request. ToEmail is a string or a
// list of strings.
type directBody struct {
	ToEmail  json.RawMessage `json:"to_email"`
	Subject  string          `json:"subject"`
	BodyHTML string          `json:"body_html"`
	DryRun   bool            `json:"dry_run"`
}

func (b directBody) recipients() []string {
	var one string
	if err := json.Unmarshal(b.ToEmail, &one); err == nil {
		return []string{one}
	}
	var many []string
	_ = json.Unmarshal(b.ToEmail, &many)
	return many
}

func (s *server) handleDirectSend(w http.ResponseWriter, r *http.Request) {
	raw, err := s.directPayload(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload")
		return
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload")
		return
	}
	if err := s.directSchema.Validate(doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationDetail(err))
		return
	}

	var body directBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload")
		return
	}

	res, err := s.svc.DirectSend(r.Context(), campaign.DirectRequest{
		Recipients: body.recipients(),
		Subject:    body.Subject,
		HTML:       body.BodyHTML,
		DryRun:     body.DryRun,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// directPayload returns the request JSON from the legacy payload query
// parameter when present, otherwise from the body.
func (s *server) directPayload(r *http.Request) ([]byte, error) {
	if p := r.URL.Query().Get("payload"); p != "" {
		return []byte(p), nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "api: read direct send body")
	}
	return data, nil
}

// validationDetail flattens a schema error into "field: message" pairs.
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "body"
			}
			parts = append(parts, field+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
