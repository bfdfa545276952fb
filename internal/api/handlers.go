package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"buildq/internal/domain"
	"buildq/internal/pipeline"
	"buildq/pkg/respond"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type submitReq struct {
	Branch string `json:"branch"`
}

// handleSubmit enqueues a full synchronize-and-build task. A
// syntactically valid branch is always accepted; all real work happens
// later on the worker.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := domain.ValidateBranch(req.Branch); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	t := domain.NewTask(id, req.Branch, filepath.Join(s.deps.LogsDir, "task_"+id+".log"))
	pos := s.deps.Registry.Enqueue(t)

	s.log.Info().Str("task", id).Str("branch", req.Branch).Int("position", pos).Msg("build task queued")
	respond.JSON(w, http.StatusAccepted, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("build task queued at position %d", pos),
		"task_id":        id,
		"queue_position": pos,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("task_id")
	t, err := s.deps.Registry.Get(id)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "task not found")
		return
	}
	snap := t.Snapshot()

	resp := map[string]any{
		"success": true,
		"status":  string(snap.State),
		"message": "",
	}

	switch snap.State {
	case domain.StateQueued:
		pos := s.deps.Registry.Position(id)
		resp["queue_position"] = pos
		resp["message"] = fmt.Sprintf("task queued at position %d", pos)

	case domain.StateFetching:
		resp["message"] = "synchronizing branch..."
		resp["build_logs"] = snap.Log

	case domain.StateBuilding:
		if cur := s.deps.Registry.Current(); cur != nil {
			resp["current_building_branch"] = cur.Branch
		}
		info := s.deps.Head.HeadInfo(r.Context())
		progress := snap.LastMessage
		if progress == "" {
			progress = "build in progress..."
		}
		resp["message"] = fmt.Sprintf("%s | Building: %s - %s", progress, info.ShortHash, info.Subject)
		resp["build_logs"] = snap.Log

	case domain.StateCompleted:
		info := s.deps.Head.HeadInfo(r.Context())
		resp["message"] = fmt.Sprintf("task completed | Built: %s - %s", info.ShortHash, info.Subject)
		resp["build_logs"] = snap.Log
		resp["result_file"] = snap.ResultFile

	case domain.StateFailed:
		resp["message"] = "task failed during sync or build"
		resp["error_message"] = snap.ErrorMessage
		resp["build_logs"] = snap.Log
	}

	respond.JSON(w, http.StatusOK, resp)
}

// handleSystemStatus reports the worker's current task and queue depth.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"success":      true,
		"queue_length": s.deps.Registry.QueueLen(),
		"total_tasks":  s.deps.Registry.Size(),
		"busy":         false,
	}
	if cur := s.deps.Registry.Current(); cur != nil {
		snap := cur.Snapshot()
		resp["busy"] = true
		resp["current_task"] = map[string]any{
			"task_id": snap.ID,
			"branch":  snap.Branch,
			"status":  string(snap.State),
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	name, err := pipeline.LatestArtifact(s.deps.ArtifactsDir, s.deps.ArtifactExt)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "no artifact found")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"url":      fmt.Sprintf("http://%s/artifacts/%s", r.Host, name),
		"filename": name,
		"message":  "artifact: " + name,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fileName")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		respond.Error(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.deps.ArtifactsDir, name)
	if _, err := os.Stat(path); err != nil {
		respond.Error(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "build-service",
	})
}
