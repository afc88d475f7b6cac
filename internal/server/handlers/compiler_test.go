package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/goflash/internal/errors"
	"github.com/3leaps/goflash/pkg/avrdude"
	"github.com/3leaps/goflash/pkg/boardconfig"
	"github.com/3leaps/goflash/pkg/boards"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/compiler"
	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/pkg/portscan"
	"github.com/3leaps/goflash/pkg/workspace"
)

type fakeBuilder struct {
	res *buildrun.Result
	err error
}

func (b fakeBuilder) Run(ctx context.Context, env, workspacePath string, upload bool, port string) (*buildrun.Result, error) {
	return b.res, b.err
}

type fakePorts struct {
	port string
	err  error
}

func (p fakePorts) FindPort(ctx context.Context, mcu string, baud int, preferred string) (string, error) {
	return p.port, p.err
}

type fakeFlasher struct{}

func (fakeFlasher) Flash(ctx context.Context, port, mcu string, baud int, image string) (*avrdude.FlashResult, error) {
	return &avrdude.FlashResult{OK: true, Output: avrdude.Output{Stderr: "1024 bytes of flash written"}}, nil
}

type harness struct {
	router   http.Handler
	resolver *boardconfig.Resolver
	project  string
}

func newHarness(t *testing.T, builder compiler.Builder, ports compiler.PortFinder) *harness {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, boardconfig.ProjectFileName),
		[]byte("[env:uno]\nplatform = atmelavr\nboard = uno\nframework = arduino\n"), 0644))

	resolver := boardconfig.NewResolver(project, boards.MapCatalog{
		"uno": {Build: boards.Build{MCU: "atmega328p"}, Upload: boards.Upload{Speed: 115200}},
	})
	pool, err := workspace.New(workspace.Options{
		Root:        filepath.Join(t.TempDir(), "parallel"),
		TemplateDir: project,
		Capacity:    2,
	})
	require.NoError(t, err)

	reg := compiler.NewRegistry(compiler.Deps{
		Resolver: resolver,
		Ports:    ports,
		Pool:     pool,
		Builder:  builder,
		Flasher:  fakeFlasher{},
		Images:   imagesource.NewResolver(imagesource.Options{}),
	})

	r := chi.NewRouter()
	r.Route("/v1", NewCompilerHandler(reg, resolver, nil).Routes)
	return &harness{router: r, resolver: resolver, project: project}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCompile_Success(t *testing.T) {
	h := newHarness(t, fakeBuilder{res: &buildrun.Result{Success: true, Output: "ok"}}, fakePorts{})

	rec := h.do(t, http.MethodPost, "/v1/compile", CompileRequest{Board: "uno", Code: "void setup(){}"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "uno", resp.Board)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, "ok", resp.Result.Output)
}

func TestCompile_FailedBuildIsNotAnHTTPError(t *testing.T) {
	h := newHarness(t, fakeBuilder{res: &buildrun.Result{Success: false, Output: "main.ino:1:1: error: x"}}, fakePorts{})

	rec := h.do(t, http.MethodPost, "/v1/compile", CompileRequest{Board: "uno", Code: "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Success)
}

func TestCompile_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		board      string
		builder    fakeBuilder
		wantStatus int
		wantCode   string
		wantNum    float64
	}{
		{name: "board not set", board: "", wantStatus: http.StatusBadRequest, wantCode: "BOARD_NOT_SET", wantNum: 0},
		{name: "board not supported", board: "mega", wantStatus: http.StatusNotFound, wantCode: "BOARD_NOT_SUPPORTED", wantNum: 1},
		{
			name:       "protocol error",
			board:      "uno",
			builder:    fakeBuilder{err: &buildrun.ProtocolError{Reason: "missing result marker"}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "COMPILE_PROTOCOL_ERROR",
			wantNum:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.builder, fakePorts{})
			rec := h.do(t, http.MethodPost, "/v1/compile", CompileRequest{Board: tt.board, Code: "x"})

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantNum, body.Error.Details["code"])
		})
	}
}

func TestCompile_BadBody(t *testing.T) {
	h := newHarness(t, fakeBuilder{}, fakePorts{})

	req := httptest.NewRequest(http.MethodPost, "/v1/compile", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, rec).Error.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/compile", http.NoBody)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_DiscoversPort(t *testing.T) {
	h := newHarness(t, fakeBuilder{res: &buildrun.Result{Success: true}}, fakePorts{port: "COM5"})

	rec := h.do(t, http.MethodPost, "/v1/upload", CompileRequest{Board: "uno", Code: "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "COM5", resp.Port)
}

func TestUpload_NoPortFound(t *testing.T) {
	h := newHarness(t, fakeBuilder{res: &buildrun.Result{Success: true}}, fakePorts{err: portscan.ErrNoPortFound})

	rec := h.do(t, http.MethodPost, "/v1/upload", CompileRequest{Board: "uno", Code: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "NO_PORT_FOUND", body.Error.Code)
	assert.Equal(t, float64(2), body.Error.Details["code"])
}

func TestPort(t *testing.T) {
	h := newHarness(t, fakeBuilder{}, fakePorts{port: "/dev/ttyUSB0"})

	rec := h.do(t, http.MethodGet, "/v1/port?board=uno", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PortResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, PortResponse{Board: "uno", Port: "/dev/ttyUSB0"}, resp)
}

func TestFlash(t *testing.T) {
	h := newHarness(t, fakeBuilder{}, fakePorts{port: "COM3"})
	image := filepath.Join(t.TempDir(), "fw.hex")
	require.NoError(t, os.WriteFile(image, []byte(":00000001FF\n"), 0644))

	rec := h.do(t, http.MethodPost, "/v1/flash", FlashRequest{Board: "uno", Image: image})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FlashResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "COM3", resp.Port)

	rec = h.do(t, http.MethodPost, "/v1/flash", FlashRequest{Board: "uno"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/flash", FlashRequest{Board: "uno", Image: filepath.Join(t.TempDir(), "missing.hex")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMAGE_UNAVAILABLE", decodeError(t, rec).Error.Code)
}

func TestBoards(t *testing.T) {
	h := newHarness(t, fakeBuilder{}, fakePorts{})

	rec := h.do(t, http.MethodGet, "/v1/boards", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BoardsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"uno"}, resp.Boards)

	require.NoError(t, os.Remove(filepath.Join(h.project, boardconfig.ProjectFileName)))
	rec = h.do(t, http.MethodGet, "/v1/boards", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusForCode_CoversEveryCode(t *testing.T) {
	codes := map[compiler.Code]int{
		compiler.CodeBoardNotSet:              http.StatusBadRequest,
		compiler.CodeBoardNotSupported:        http.StatusNotFound,
		compiler.CodeNoPortFound:              http.StatusServiceUnavailable,
		compiler.CodeMultipleBoardsConnected:  http.StatusConflict,
		compiler.CodeProjectConfigUnavailable: http.StatusServiceUnavailable,
		compiler.CodeCompileProtocolError:     http.StatusBadGateway,
		compiler.CodeWorkspaceUnavailable:     http.StatusServiceUnavailable,
		compiler.CodeImageUnavailable:         http.StatusNotFound,
		compiler.CodeInternal:                 http.StatusInternalServerError,
	}
	for code, want := range codes {
		assert.Equal(t, want, statusForCode(code), code.String())
	}
}
