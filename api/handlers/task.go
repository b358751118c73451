package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"watermarker/api/dto"
	"watermarker/api/middleware"
	"watermarker/api/service"
	"watermarker/api/validation"
)

// TaskService is what the handlers need from the service layer.
type TaskService interface {
	CreateMarkTask(ctx context.Context, up *service.MarkUpload) (*dto.MarkCreatedResponse, error)
	CreateDetectTask(ctx context.Context, req *dto.DetectRequest) (*dto.DetectCreatedResponse, error)
	CreateMiscTask(ctx context.Context, req *dto.MiscTaskRequest) (string, error)
	CreateVerificationRequest(ctx context.Context, req *dto.VerificationRequest) (string, error)
	GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	GetProgress(ctx context.Context, userID string) (*dto.ProgressResponse, error)
}

type TaskHandler struct {
	service     TaskService
	maxFileSize int64
	logger      *zap.Logger
}

func NewTaskHandler(service TaskService, maxFileSize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Mark accepts a multipart image upload plus mark parameters and enqueues
// the mark task.
func (h *TaskHandler) Mark(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		h.handleError(w, "Invalid file", validation.ErrFileTooLarge, traceID, http.StatusBadRequest)
		return
	}

	fileType, err := validation.DetectFileType(file)
	if err != nil {
		h.handleError(w, "Invalid file", err, traceID, http.StatusBadRequest)
		return
	}

	width, height, err := validation.DecodeDimensions(file)
	if err != nil {
		h.handleError(w, "Invalid file", err, traceID, http.StatusBadRequest)
		return
	}

	userID := r.FormValue("userId")
	message := r.FormValue("message")
	if userID == "" || message == "" {
		h.handleError(w, "userId and message are required", nil, traceID, http.StatusBadRequest)
		return
	}

	strength, err := strconv.ParseFloat(r.FormValue("strength"), 64)
	if err != nil {
		h.handleError(w, "Invalid strength", err, traceID, http.StatusBadRequest)
		return
	}

	up := &service.MarkUpload{
		UserID:      userID,
		Name:        filepath.Base(header.Filename),
		Message:     message,
		Strength:    strength,
		File:        file,
		Size:        header.Size,
		ContentType: "image/" + string(fileType),
		Width:       width,
		Height:      height,
	}

	resp, err := h.service.CreateMarkTask(r.Context(), up)
	if err != nil {
		h.handleError(w, "Failed to create mark task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Mark task submitted",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.TaskID),
		zap.String("user_id", userID),
		zap.String("filename", header.Filename),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

// Detect enqueues a detection task for two already-stored images.
func (h *TaskHandler) Detect(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.PathOriginal == "" || req.PathMarked == "" {
		h.handleError(w, "userId, pathOriginal and pathMarked are required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateDetectTask(r.Context(), &req)
	if err != nil {
		h.handleError(w, "Failed to create detect task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Detect task submitted",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.TaskID),
		zap.String("user_id", req.UserID),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

// Submit enqueues one of the bookkeeping task types.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.MiscTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	taskID, err := h.service.CreateMiscTask(r.Context(), &req)
	if err != nil {
		h.handleError(w, "Failed to create task", err, traceID, http.StatusBadRequest)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

// RequestVerification records an access request and notifies the admin.
func (h *TaskHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.handleError(w, "userId is required", nil, traceID, http.StatusBadRequest)
		return
	}

	taskID, err := h.service.CreateVerificationRequest(r.Context(), &req)
	if err != nil {
		h.handleError(w, "Failed to create verification request", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if taskID == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Progress returns the live progress record for a user.
func (h *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	userID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if userID == "" {
		h.handleError(w, "User ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetProgress(r.Context(), userID)
	if err != nil {
		h.handleError(w, "Failed to get progress", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
