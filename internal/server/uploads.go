package server

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"annotrack/internal/engine"
)

// Submission uploads and archive downloads do not fit the JSON schema
// surface, so they bypass huma and hang off the router directly.

const maxUploadBytes = 256 << 20

func registerUploads(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "/submit"), func(w http.ResponseWriter, req *http.Request) {
		emp, authErr := employeeFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart body", nil))
			return
		}
		file, header, err := req.FormFile("submit_file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "submit_file is required", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "read upload failed", nil))
			return
		}
		result, err := e.Submit(req.Context(), engine.SubmitOptions{
			EmployeeID: emp.ID,
			WorkID:     req.FormValue("work_id"),
			Filename:   header.Filename,
			Archive:    data,
			Comment:    req.FormValue("comment"),
			IsFinal:    parseBool(req.FormValue("is_final")),
			SkipChecks: parseBool(req.FormValue("skip_checks")),
			ActorID:    emp.ID,
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondJSON(w, http.StatusOK, SubmitResponse{
			Submission: result.Submission,
			Work:       result.Work,
			Increment:  result.Increment,
		})
	})

	r.Post(path.Join(basePath, "/tasks/{task_id}/file"), func(w http.ResponseWriter, req *http.Request) {
		admin, authErr := requireAdmin(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart body", nil))
			return
		}
		file, header, err := req.FormFile("task_file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "task_file is required", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "read upload failed", nil))
			return
		}
		t, err := e.AttachTaskFile(req.Context(), chi.URLParam(req, "task_id"), data, header.Filename, admin.ID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondJSON(w, http.StatusOK, t)
	})

	r.Get(path.Join(basePath, "/tasks/{task_id}/file"), func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := employeeFromContext(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		t, err := e.Repo.GetTask(req.Context(), chi.URLParam(req, "task_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if t.TaskFile == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "task has no starting file", nil))
			return
		}
		serveArchive(w, e, *t.TaskFile)
	})

	r.Get(path.Join(basePath, "/submissions/{submission_id}/file"), func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := employeeFromContext(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		s, err := e.Repo.GetSubmission(req.Context(), chi.URLParam(req, "submission_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if s.Datafile == "" {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "submission has no stored file", nil))
			return
		}
		serveArchive(w, e, s.Datafile)
	})
}

func serveArchive(w http.ResponseWriter, e engine.Engine, name string) {
	data, err := e.Blobs.Read(name)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "stored file missing", nil))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+path.Base(name)+"\"")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
