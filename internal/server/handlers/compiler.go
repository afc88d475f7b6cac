package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/goflash/internal/errors"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/compiler"
)

// maxRequestBytes bounds request bodies; sketches are small text files.
const maxRequestBytes = 8 << 20

// CompileRequest is the body of /v1/compile and /v1/upload.
type CompileRequest struct {
	Board string `json:"board"`
	Code  string `json:"code"`
	Port  string `json:"port,omitempty"`
}

// FlashRequest is the body of /v1/flash.
type FlashRequest struct {
	Board string `json:"board"`
	Image string `json:"image"`
	Port  string `json:"port,omitempty"`
}

// CompileResponse carries a build result. A build that ran and failed is a
// 200 with result.success false.
type CompileResponse struct {
	Board  string           `json:"board"`
	Port   string           `json:"port,omitempty"`
	Result *buildrun.Result `json:"result"`
}

// FlashResponse carries the outcome of an image write.
type FlashResponse struct {
	Board  string `json:"board"`
	Port   string `json:"port"`
	OK     bool   `json:"ok"`
	Stdout string `json:"out"`
	Stderr string `json:"err"`
}

// PortResponse is the body of /v1/port.
type PortResponse struct {
	Board string `json:"board"`
	Port  string `json:"port"`
}

// BoardsResponse is the body of /v1/boards.
type BoardsResponse struct {
	Boards []string `json:"boards"`
}

// CompilerHandler exposes a compiler registry over HTTP.
type CompilerHandler struct {
	registry *compiler.Registry
	boards   BoardLister
	logger   *zap.Logger
}

func NewCompilerHandler(registry *compiler.Registry, boards BoardLister, logger *zap.Logger) *CompilerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompilerHandler{registry: registry, boards: boards, logger: logger}
}

// Routes mounts the handler on r.
func (h *CompilerHandler) Routes(r chi.Router) {
	r.Post("/compile", h.Compile)
	r.Post("/upload", h.Upload)
	r.Post("/flash", h.Flash)
	r.Get("/port", h.Port)
	r.Get("/boards", h.Boards)
}

func (h *CompilerHandler) Compile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	f, err := h.registry.Get(req.Board)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	res, err := f.Compile(r.Context(), req.Code)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, CompileResponse{Board: f.Board(), Result: res})
}

func (h *CompilerHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	f, err := h.registry.Get(req.Board)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	res, err := f.Upload(r.Context(), req.Code, req.Port)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	port := strings.TrimSpace(req.Port)
	if port == "" {
		port = f.LastPort()
	}
	apperrors.WriteJSON(w, http.StatusOK, CompileResponse{Board: f.Board(), Port: port, Result: res})
}

func (h *CompilerHandler) Flash(w http.ResponseWriter, r *http.Request) {
	var req FlashRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		respondWithError(w, r, apperrors.NewBadRequest("image is required"))
		return
	}
	f, err := h.registry.Get(req.Board)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	res, err := f.UploadImage(r.Context(), req.Image, req.Port)
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	port := strings.TrimSpace(req.Port)
	if port == "" {
		port = f.LastPort()
	}
	apperrors.WriteJSON(w, http.StatusOK, FlashResponse{
		Board:  f.Board(),
		Port:   port,
		OK:     res.OK,
		Stdout: res.Stdout,
		Stderr: res.Stderr,
	})
}

func (h *CompilerHandler) Port(w http.ResponseWriter, r *http.Request) {
	f, err := h.registry.Get(r.URL.Query().Get("board"))
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	port, err := f.Port(r.Context())
	if err != nil {
		respondWithError(w, r, compilerHTTPError(err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, PortResponse{Board: f.Board(), Port: port})
}

func (h *CompilerHandler) Boards(w http.ResponseWriter, r *http.Request) {
	if h.boards == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("Board listing is not configured"))
		return
	}
	ids, err := h.boards.Boards()
	if err != nil {
		h.logger.Warn("Failed to list boards", zap.Error(err))
		respondWithError(w, r, apperrors.NewServiceUnavailable("Project configuration is not available").WithCause(err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	apperrors.WriteJSON(w, http.StatusOK, BoardsResponse{Boards: ids})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.New(http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			return apperrors.NewBadRequest("Request body is required")
		default:
			return apperrors.NewBadRequest("Request body is not valid JSON").WithCause(err)
		}
	}
	return nil
}

// compilerHTTPError maps a facade error onto the HTTP envelope. The numeric
// compiler code is carried in details.code.
func compilerHTTPError(err error) error {
	var ce *compiler.Error
	if !errors.As(err, &ce) {
		return err
	}
	details := map[string]any{"code": int(ce.Code)}
	if ce.Board != "" {
		details["board"] = ce.Board
	}
	return (&apperrors.HTTPError{
		Status:  statusForCode(ce.Code),
		Code:    ce.Code.String(),
		Message: ce.Message,
		Err:     ce,
	}).WithDetails(details)
}

func statusForCode(code compiler.Code) int {
	switch code {
	case compiler.CodeBoardNotSet:
		return http.StatusBadRequest
	case compiler.CodeBoardNotSupported, compiler.CodeImageUnavailable:
		return http.StatusNotFound
	case compiler.CodeMultipleBoardsConnected:
		return http.StatusConflict
	case compiler.CodeCompileProtocolError:
		return http.StatusBadGateway
	case compiler.CodeNoPortFound, compiler.CodeProjectConfigUnavailable, compiler.CodeWorkspaceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
