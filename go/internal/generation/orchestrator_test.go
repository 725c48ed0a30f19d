package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/models"
)

type step struct {
	submitErr error
	pending   int
	final     PollResult
}

type fakeProvider struct {
	mu      sync.Mutex
	scripts map[string][]step
	submits map[string]int
	running map[string]*run
}

type run struct {
	step  step
	polls int
}

func newFakeProvider(scripts map[string][]step) *fakeProvider {
	return &fakeProvider{scripts: scripts, submits: map[string]int{}, running: map[string]*run{}}
}

func (p *fakeProvider) Submit(_ context.Context, _ string, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.submits[prompt]
	p.submits[prompt]++
	script := p.scripts[prompt]
	s := script[min(n, len(script)-1)]
	if s.submitErr != nil {
		return "", s.submitErr
	}
	id := fmt.Sprintf("%s-%d", prompt, n)
	p.running[id] = &run{step: s}
	return id, nil
}

func (p *fakeProvider) Poll(_ context.Context, id string) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.running[id]
	r.polls++
	if r.polls <= r.step.pending {
		return PollResult{Status: PollPending}, nil
	}
	return r.step.final, nil
}

func (p *fakeProvider) submitCount(prompt string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits[prompt]
}

type fakeSink struct {
	mu       sync.Mutex
	images   map[string]string
	finished []Summary
}

func (s *fakeSink) SetImage(_ context.Context, _ RoundRef, token, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images == nil {
		s.images = map[string]string{}
	}
	s.images[token] = url
	return nil
}

func (s *fakeSink) FinishGeneration(_ context.Context, _ RoundRef, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, summary)
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (j *fakeJournal) Log(_ context.Context, level models.LogLevel, message string) models.LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := models.LogEntry{Level: level, Message: message}
	j.entries = append(j.entries, e)
	return e
}

func (j *fakeJournal) has(level models.LogLevel, prefix string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.Level == level && strings.HasPrefix(e.Message, prefix) {
			return true
		}
	}
	return false
}

// drive advances the fake clock until fn returns.
func drive(t *testing.T, fc *clockwork.FakeClock, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatalf("run did not finish")
		default:
			fc.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func succeeded(url string) PollResult {
	return PollResult{Status: PollSucceeded, ImageURL: url}
}

func TestRunMixedOutcomes(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{
		"a cat":   {{pending: 2, final: succeeded("https://img/cat.webp")}},
		"a storm": {{final: PollResult{Status: PollFailed, Error: "nsfw"}}},
	})
	sink := &fakeSink{}
	journal := &fakeJournal{}
	o := NewOrchestrator(provider, sink, journal, Config{Clock: fc})

	req := Request{Round: 3, Jobs: []Job{
		{Token: "AAAA", DisplayName: "Ann", Prompt: "a cat"},
		{Token: "BBBB", DisplayName: "Bob", Prompt: "a storm"},
		{Token: "CCCC", DisplayName: "Cy", Prompt: "   "},
	}}
	var summary Summary
	drive(t, fc, func() { summary = o.Run(context.Background(), req) })

	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := sink.images["AAAA"]; got != "https://img/cat.webp" {
		t.Fatalf("image for AAAA = %q", got)
	}
	if _, ok := sink.images["BBBB"]; ok {
		t.Fatalf("failed job must not store an image")
	}
	if len(sink.finished) != 1 || sink.finished[0].Round != 3 {
		t.Fatalf("finish calls = %+v", sink.finished)
	}
	if provider.submitCount("a storm") != 2 {
		t.Fatalf("failed job should be retried once, submits = %d", provider.submitCount("a storm"))
	}
	if !journal.has(models.LogLevelWarning, "Skipping Cy") {
		t.Fatalf("expected skip warning, got %+v", journal.entries)
	}
	if !journal.has(models.LogLevelSuccess, "Success for Ann") {
		t.Fatalf("expected success entry, got %+v", journal.entries)
	}
}

func TestRunRetriesSubmitErrorOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{
		"a dog": {
			{submitErr: errors.New("502 bad gateway")},
			{pending: 1, final: succeeded("https://img/dog.webp")},
		},
	})
	sink := &fakeSink{}
	o := NewOrchestrator(provider, sink, &fakeJournal{}, Config{Clock: fc})

	var summary Summary
	drive(t, fc, func() {
		summary = o.Run(context.Background(), Request{Round: 1, Jobs: []Job{{Token: "DDDD", Prompt: "a dog"}}})
	})

	r := summary.Results[0]
	if !r.Succeeded() || r.Attempts != 2 {
		t.Fatalf("result = %+v, want success on attempt 2", r)
	}
}

func TestRunDoesNotRetryTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{
		"slow": {{pending: 1000}},
	})
	o := NewOrchestrator(provider, &fakeSink{}, &fakeJournal{}, Config{Clock: fc, MaxPolls: 3})

	var summary Summary
	drive(t, fc, func() {
		summary = o.Run(context.Background(), Request{Round: 1, Jobs: []Job{{Token: "EEEE", Prompt: "slow"}}})
	})

	r := summary.Results[0]
	if r.Succeeded() || r.Attempts != 1 || !strings.Contains(r.Error, ErrTimeout.Error()) {
		t.Fatalf("result = %+v, want single timed-out attempt", r)
	}
	if provider.submitCount("slow") != 1 {
		t.Fatalf("timeout must not be retried")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{"x": {{pending: 1000}}})
	sink := &fakeSink{}
	o := NewOrchestrator(provider, sink, nil, Config{Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary)
	go func() { done <- o.Run(ctx, Request{Round: 1, Jobs: []Job{{Token: "FFFF", Prompt: "x"}}}) }()
	cancel()

	select {
	case s := <-done:
		if s.Failed != 1 {
			t.Fatalf("summary = %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run ignored cancellation")
	}
}

func TestGenerateRejectsUnknownModel(t *testing.T) {
	o := NewOrchestrator(newFakeProvider(nil), nil, nil, Config{Models: []string{DefaultModel}})
	_, err := o.Generate(context.Background(), "someone/else", "a cat")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestGenerateUsesDefaultModel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{"a fox": {{final: succeeded("https://img/fox.webp")}}})
	o := NewOrchestrator(provider, nil, nil, Config{Clock: fc, Models: []string{DefaultModel}})

	var res *GenerateResult
	var err error
	drive(t, fc, func() { res, err = o.Generate(context.Background(), "", "a fox") })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Model != DefaultModel || res.ImageURL != "https://img/fox.webp" {
		t.Fatalf("result = %+v", res)
	}
}

// barrierProvider fails a submit unless every expected job is in flight at
// the same time.
type barrierProvider struct {
	want int

	mu       sync.Mutex
	inFlight int
	all      chan struct{}
}

func (p *barrierProvider) Submit(ctx context.Context, _ string, prompt string) (string, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight == p.want {
		close(p.all)
	}
	p.mu.Unlock()

	select {
	case <-p.all:
		return prompt, nil
	case <-time.After(time.Second):
		return "", errors.New("jobs were not all running at once")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *barrierProvider) Poll(_ context.Context, id string) (PollResult, error) {
	return succeeded("https://img/" + id + ".webp"), nil
}

func TestRunStartsEveryJobAtOnce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	jobs := make([]Job, models.MaxParticipantCount)
	for i := range jobs {
		jobs[i] = Job{Token: fmt.Sprintf("T%03d", i), Prompt: fmt.Sprintf("prompt-%d", i)}
	}
	provider := &barrierProvider{want: len(jobs), all: make(chan struct{})}
	sink := &fakeSink{}
	o := NewOrchestrator(provider, sink, &fakeJournal{}, Config{Clock: fc, MaxRetries: -1})

	var summary Summary
	drive(t, fc, func() { summary = o.Run(context.Background(), Request{Round: 1, Jobs: jobs}) })

	if summary.Succeeded != len(jobs) || summary.Failed != 0 {
		t.Fatalf("summary = %d succeeded, %d failed; want all %d concurrently", summary.Succeeded, summary.Failed, len(jobs))
	}
	if len(sink.images) != len(jobs) {
		t.Fatalf("stored %d images, want %d", len(sink.images), len(jobs))
	}
}

func TestRunReportsRoundRef(t *testing.T) {
	fc := clockwork.NewFakeClock()
	provider := newFakeProvider(map[string][]step{"a fox": {{final: succeeded("https://img/fox.webp")}}})
	sink := &refSink{}
	o := NewOrchestrator(provider, sink, &fakeJournal{}, Config{Clock: fc})

	req := Request{SessionID: "session-b", Round: 1, Jobs: []Job{{Token: "FFFF", Prompt: "a fox"}}}
	drive(t, fc, func() { o.Run(context.Background(), req) })

	want := RoundRef{SessionID: "session-b", Round: 1}
	if len(sink.refs) != 2 || sink.refs[0] != want || sink.refs[1] != want {
		t.Fatalf("sink refs = %+v, want %+v for image and finish", sink.refs, want)
	}
}

type refSink struct {
	mu   sync.Mutex
	refs []RoundRef
}

func (s *refSink) SetImage(_ context.Context, ref RoundRef, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return nil
}

func (s *refSink) FinishGeneration(_ context.Context, ref RoundRef, _ Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return nil
}

func TestRunWithoutJournalLogsLevelName(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	o := NewOrchestrator(newFakeProvider(nil), nil, nil, Config{Clock: clockwork.NewFakeClock()})
	o.Run(context.Background(), Request{Round: 1, Jobs: []Job{{Token: "EEEE", DisplayName: "Eve"}}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	sawWarning := false
	for _, line := range lines {
		if n := strings.Count(line, `"level":`); n != 1 {
			t.Fatalf("line has %d level keys: %s", n, line)
		}
		if strings.Contains(line, `"level_name":"warning"`) && strings.Contains(line, "Skipping Eve") {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Fatalf("skip warning missing from %s", buf.String())
	}
}
