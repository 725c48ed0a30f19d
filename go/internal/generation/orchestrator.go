package generation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/models"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxPolls     = 120
	DefaultRetryDelay   = 2 * time.Second
	DefaultMaxRetries   = 1
	DefaultModel        = "google/nano-banana-pro"
)

// Config tunes polling and retries.
type Config struct {
	PollInterval time.Duration
	MaxPolls     int
	RetryDelay   time.Duration
	// MaxRetries is the number of extra attempts per job. Zero means the
	// default; a negative value disables retries.
	MaxRetries   int
	DefaultModel string
	// Models restricts Generate to these names when non-empty.
	Models []string
	Clock  clock.Clock
}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		RetryDelay:   DefaultRetryDelay,
		MaxRetries:   DefaultMaxRetries,
		DefaultModel: DefaultModel,
	}
}

// Orchestrator fans a round's prompts out to the provider and reports back
// through the sink. Each job is independent: one failure never stops the rest.
type Orchestrator struct {
	provider   Provider
	sink       Sink
	journal    Journal
	config     Config
	clock      clock.Clock
	instanceID string

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. journal may be nil.
func NewOrchestrator(provider Provider, sink Sink, journal Journal, config Config) *Orchestrator {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxPolls <= 0 {
		config.MaxPolls = defaults.MaxPolls
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = defaults.MaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaults.DefaultModel
	}
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Orchestrator{
		provider:   provider,
		sink:       sink,
		journal:    journal,
		config:     config,
		clock:      c,
		instanceID: uuid.New().String(),
	}
}

// Consume runs every request received on requests until ctx is done or the
// channel is closed. Runs overlap so a new round never waits on an old one.
func (o *Orchestrator) Consume(ctx context.Context, requests <-chan Request) {
	log.Info().Str("instance", o.instanceID).Msg("generation orchestrator started")
	defer func() {
		o.wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("generation orchestrator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				o.Run(ctx, req)
			}()
		}
	}
}

// Run generates every job of req, then hands the summary to the sink.
func (o *Orchestrator) Run(ctx context.Context, req Request) Summary {
	model := req.Model
	if model == "" {
		model = o.config.DefaultModel
	}
	results := make([]Result, len(req.Jobs))

	o.logf(ctx, models.LogLevelInfo, "Starting generation for round %d: %d participants, model %s", req.Round, len(req.Jobs), model)

	work := make(chan int, len(req.Jobs))
	for i, job := range req.Jobs {
		results[i].Token = job.Token
		if strings.TrimSpace(job.Prompt) == "" {
			results[i].Skipped = true
			o.logf(ctx, models.LogLevelWarning, "Skipping %s (no prompt)", job.label())
			continue
		}
		work <- i
	}
	close(work)

	// One worker per prompt: every job of the round runs at once.
	workers := len(work)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go o.worker(ctx, &wg, w, req, model, work, results)
	}
	wg.Wait()

	summary := summarize(req.Round, results)
	level := models.LogLevelSuccess
	if summary.Failed > 0 {
		level = models.LogLevelWarning
	}
	o.logf(ctx, level, "All generations completed: %d succeeded, %d failed, %d skipped",
		summary.Succeeded, summary.Failed, summary.Skipped)

	if o.sink != nil {
		if err := o.sink.FinishGeneration(ctx, req.Ref(), summary); err != nil {
			log.Error().Err(err).Int("round", req.Round).Msg("failed to finish generation")
		}
	}
	return summary
}

func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int, req Request, model string, work <-chan int, results []Result) {
	defer wg.Done()
	for i := range work {
		job := req.Jobs[i]
		log.Debug().
			Str("instance", o.instanceID).
			Int("worker_id", workerID).
			Int("round", req.Round).
			Str("token", job.Token).
			Msg("worker handling job")

		url, attempts, err := o.runJob(ctx, model, job)
		results[i].Attempts = attempts
		if err != nil {
			results[i].Error = err.Error()
			o.logf(ctx, models.LogLevelError, "Failed for %s: %v", job.label(), err)
			continue
		}
		results[i].ImageURL = url
		o.logf(ctx, models.LogLevelSuccess, "Success for %s", job.label())

		if o.sink != nil {
			if err := o.sink.SetImage(ctx, req.Ref(), job.Token, url); err != nil {
				log.Error().Err(err).Int("round", req.Round).Str("token", job.Token).Msg("failed to store image")
			}
		}
	}
}

// GenerateResult is the outcome of a single synchronous generation.
type GenerateResult struct {
	Model    string        `json:"model"`
	ImageURL string        `json:"image"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"-"`
}

// Generate runs one prompt outside any round.
func (o *Orchestrator) Generate(ctx context.Context, model, prompt string) (*GenerateResult, error) {
	if model == "" {
		model = o.config.DefaultModel
	}
	if len(o.config.Models) > 0 && !slices.Contains(o.config.Models, model) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, models.ErrInvalidPrompt
	}
	started := o.clock.Now()
	url, attempts, err := o.runJob(ctx, model, Job{Token: "test", DisplayName: "test generation", Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Model:    model,
		ImageURL: url,
		Attempts: attempts,
		Duration: o.clock.Now().Sub(started),
	}, nil
}

// Models returns the names Generate accepts, or nil when any name is accepted.
func (o *Orchestrator) Models() []string {
	return slices.Clone(o.config.Models)
}

// runJob makes the first attempt and up to MaxRetries more. A timeout is
// final.
func (o *Orchestrator) runJob(ctx context.Context, model string, job Job) (string, int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		var url string
		url, err = o.attempt(ctx, model, job)
		if err == nil {
			return url, attempt, nil
		}
		if errors.Is(err, ErrTimeout) || ctx.Err() != nil || attempt > o.config.MaxRetries {
			return "", attempt, err
		}
		o.logf(ctx, models.LogLevelWarning, "Retrying %s after error: %v", job.label(), err)
		if sleepErr := o.sleep(ctx, o.config.RetryDelay); sleepErr != nil {
			return "", attempt, err
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, model string, job Job) (string, error) {
	o.logf(ctx, models.LogLevelInfo, "Creating prediction for %s", job.label())
	id, err := o.provider.Submit(ctx, model, job.Prompt)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	o.logf(ctx, models.LogLevelInfo, "Prediction created for %s: %s", job.label(), id)

	for polls := 1; polls <= o.config.MaxPolls; polls++ {
		if err := o.sleep(ctx, o.config.PollInterval); err != nil {
			return "", err
		}
		res, err := o.provider.Poll(ctx, id)
		if err != nil {
			return "", fmt.Errorf("poll %s: %w", id, err)
		}
		log.Debug().Str("prediction_id", id).Int("poll", polls).Str("status", string(res.Status)).Msg("polled prediction")

		switch res.Status {
		case PollSucceeded:
			if res.ImageURL == "" {
				return "", &JobError{Status: PollFailed, Message: "no output"}
			}
			return res.ImageURL, nil
		case PollFailed, PollCanceled:
			return "", &JobError{Status: res.Status, Message: res.Error}
		}
	}
	return "", fmt.Errorf("%w after %d polls", ErrTimeout, o.config.MaxPolls)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := o.clock.NewTimer(d)
	defer clock.StopAndDrain(timer)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (o *Orchestrator) logf(ctx context.Context, level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.journal == nil {
		log.Info().Str("source", "generation").Str("level_name", string(level)).Msg(msg)
		return
	}
	o.journal.Log(ctx, level, msg)
}
