package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/promptclash/go/internal/models"
)

// ErrTimeout is returned when a job is still pending after the poll budget.
var ErrTimeout = errors.New("generation timed out")

// ErrUnknownModel is returned for a model missing from the catalogue.
var ErrUnknownModel = errors.New("unknown model")

// PollStatus is the provider-neutral state of a submitted job.
type PollStatus string

const (
	PollPending   PollStatus = "pending"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
	PollCanceled  PollStatus = "canceled"
)

// PollResult is one observation of a submitted job.
type PollResult struct {
	Status   PollStatus
	ImageURL string
	Error    string
}

// Provider submits prompts to an image model and reports on them.
type Provider interface {
	Submit(ctx context.Context, model, prompt string) (string, error)
	Poll(ctx context.Context, id string) (PollResult, error)
}

// RoundRef names the round a generation run belongs to. Round numbers
// restart with every session, so both parts are needed to tell a stale run
// from the current one.
type RoundRef struct {
	SessionID string
	Round     int
}

// Sink receives the outcome of a generation run. The ref lets the receiver
// drop writes that belong to a round that is no longer current.
type Sink interface {
	SetImage(ctx context.Context, ref RoundRef, token, url string) error
	FinishGeneration(ctx context.Context, ref RoundRef, summary Summary) error
}

// Journal is where per-job progress is reported for the admin.
type Journal interface {
	Log(ctx context.Context, level models.LogLevel, message string) models.LogEntry
}

// Job is one participant prompt.
type Job struct {
	Token       string
	DisplayName string
	Prompt      string
}

func (j Job) label() string {
	if j.DisplayName == "" {
		return j.Token
	}
	return fmt.Sprintf("%s (%s)", j.DisplayName, j.Token)
}

// Request is a generation run for one round.
type Request struct {
	SessionID string
	Round     int
	Model     string
	Jobs      []Job
}

// Ref returns the round the request was made for.
func (r Request) Ref() RoundRef {
	return RoundRef{SessionID: r.SessionID, Round: r.Round}
}

// Result is the outcome of one job.
type Result struct {
	Token    string `json:"token"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// Succeeded reports whether the job produced an image.
func (r Result) Succeeded() bool {
	return r.ImageURL != ""
}

// Summary aggregates a run.
type Summary struct {
	Round     int      `json:"round"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Results   []Result `json:"results"`
}

func summarize(round int, results []Result) Summary {
	s := Summary{Round: round, Results: results}
	for _, r := range results {
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Succeeded():
			s.Succeeded++
		default:
			s.Failed++
		}
	}
	return s
}

// JobError is a terminal provider status other than success.
type JobError struct {
	Status  PollStatus
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return "prediction " + string(e.Status)
	}
	return fmt.Sprintf("prediction %s: %s", e.Status, e.Message)
}
