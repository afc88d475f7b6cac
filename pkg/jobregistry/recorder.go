package jobregistry

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder writes a job record for every compile, upload and flash.
//
// Recording is best effort: store failures are logged and never fail the
// operation being recorded. A nil *Recorder records nothing.
type Recorder struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(root string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  NewStore(root),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}

// Job is an in-flight job record.
type Job struct {
	r *Recorder

	mu  sync.Mutex
	rec JobRecord
}

// Begin persists a running record for a new job.
func (r *Recorder) Begin(kind JobKind, board string) *Job {
	if r == nil {
		return nil
	}
	now := r.now()
	j := &Job{
		r: r,
		rec: JobRecord{
			JobID:     uuid.New().String(),
			Kind:      kind,
			Board:     strings.TrimSpace(board),
			State:     JobStateRunning,
			PID:       os.Getpid(),
			CreatedAt: now,
			StartedAt: &now,
		},
	}
	j.persist()
	return j
}

// ID returns the job id, or "" for a nil job.
func (j *Job) ID() string {
	if j == nil {
		return ""
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.JobID
}

func (j *Job) SetSlot(slot int) {
	j.update(func(rec *JobRecord) { rec.Slot = slot })
}

func (j *Job) SetPort(port string) {
	j.update(func(rec *JobRecord) { rec.Port = port })
}

func (j *Job) SetImage(image string) {
	j.update(func(rec *JobRecord) { rec.Image = image })
}

func (j *Job) update(fn func(rec *JobRecord)) {
	if j == nil {
		return
	}
	j.mu.Lock()
	fn(&j.rec)
	j.mu.Unlock()
}

// Finish stores output and marks the job terminal. A nil jobErr with
// success false records a tool-reported failure.
func (j *Job) Finish(success bool, output []byte, jobErr *JobError) {
	if j == nil {
		return
	}
	j.mu.Lock()
	if len(output) > 0 {
		path, err := j.r.store.WriteOutput(j.rec.JobID, output)
		if err != nil {
			j.r.logger.Warn("Failed to write job output", zap.String("job_id", j.rec.JobID), zap.Error(err))
		} else {
			j.rec.OutputPath = path
		}
	}
	now := j.r.now()
	j.rec.EndedAt = &now
	j.rec.Error = jobErr
	if success && jobErr == nil {
		j.rec.State = JobStateSuccess
	} else {
		j.rec.State = JobStateFailed
	}
	j.mu.Unlock()
	j.persist()
}

// Record returns a copy of the current record.
func (j *Job) Record() JobRecord {
	if j == nil {
		return JobRecord{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

func (j *Job) persist() {
	rec := j.Record()
	if err := j.r.store.Write(&rec); err != nil {
		j.r.logger.Warn("Failed to write job record", zap.String("job_id", rec.JobID), zap.Error(err))
	}
}
