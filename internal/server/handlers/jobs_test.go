package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goflash/pkg/jobregistry"
)

func newJobsRouter(store *jobregistry.Store) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", NewJobsHandler(store).Routes)
	return r
}

func TestJobsHandler_ListAndGet(t *testing.T) {
	rec := jobregistry.NewRecorder(filepath.Join(t.TempDir(), "jobs"), nil)
	job := rec.Begin(jobregistry.JobKindCompile, "uno")
	job.Finish(true, []byte("build ok"), nil)

	router := newJobsRouter(rec.Store())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list JobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID(), list.Jobs[0].JobID)
	assert.Equal(t, jobregistry.JobStateSuccess, list.Jobs[0].State)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got jobregistry.JobRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "uno", got.Board)
}

func TestJobsHandler_Errors(t *testing.T) {
	router := newJobsRouter(jobregistry.NewStore(t.TempDir()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsHandler_NilStore(t *testing.T) {
	w := httptest.NewRecorder()
	newJobsRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[]}`, w.Body.String())
}

type staticBoards struct {
	ids []string
	err error
}

func (s staticBoards) Boards() ([]string, error) { return s.ids, s.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, ProjectChecker(staticBoards{ids: []string{"uno"}}).CheckHealth(ctx))
	assert.Error(t, ProjectChecker(staticBoards{}).CheckHealth(ctx))
	assert.ErrorIs(t, ProjectChecker(staticBoards{err: assert.AnError}).CheckHealth(ctx), assert.AnError)

	assert.NoError(t, DirWritableChecker(filepath.Join(t.TempDir(), "nested")).CheckHealth(ctx))
}

func TestVersionHandler(t *testing.T) {
	SetVersionInfo("1.0.0", "abc123", "2026-01-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	w := httptest.NewRecorder()
	VersionHandler(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info VersionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}
