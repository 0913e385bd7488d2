package tasks

import (
	"context"

	"github.com/prismon/photo-library/internal/models"
)

// Job is a claimed task handed to a worker together with the asset it concerns
type Job struct {
	Task  models.TaskState
	Asset *models.Asset // read-only view at claim time

	ctx context.Context
}

// NewJob binds a claimed task to its cancellation context
func NewJob(ctx context.Context, task models.TaskState, asset *models.Asset) *Job {
	return &Job{Task: task, Asset: asset, ctx: ctx}
}

// Context is cancelled when the task is cancelled, e.g. because its asset was deleted
func (j *Job) Context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

// Path returns the best known location of the asset's file
func (j *Job) Path() string {
	if j.Asset == nil {
		return ""
	}
	return j.Asset.ResolvedPath
}

// Worker performs the tasks of one or more kinds
type Worker interface {
	Kinds() []models.TaskKind
	Execute(ctx context.Context, job *Job) (Outcome, error)
}

// WorkerFunc adapts a function into a Worker for the given kinds
type WorkerFunc struct {
	KindList []models.TaskKind
	Fn       func(ctx context.Context, job *Job) (Outcome, error)
}

func (w WorkerFunc) Kinds() []models.TaskKind {
	return w.KindList
}

func (w WorkerFunc) Execute(ctx context.Context, job *Job) (Outcome, error) {
	return w.Fn(ctx, job)
}
