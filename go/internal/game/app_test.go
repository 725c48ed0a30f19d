package game

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/adminlog"
	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/history"
	"github.com/mcdev12/promptclash/go/internal/identity"
	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/store"
)

type sentEvent struct {
	Type gateway.EventType
	Data any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []sentEvent
}

func (e *recordingEmitter) Broadcast(eventType gateway.EventType, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, sentEvent{Type: eventType, Data: data})
}

func (e *recordingEmitter) BroadcastDebounced(_ string, eventType gateway.EventType, data func() (any, error)) {
	v, err := data()
	if err != nil {
		return
	}
	e.Broadcast(eventType, v)
}

func (e *recordingEmitter) count(t gateway.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) last(t gateway.EventType) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Type == t {
			return e.events[i].Data, true
		}
	}
	return nil, false
}

type testEnv struct {
	app     *App
	clock   *clockwork.FakeClock
	emitter *recordingEmitter
	journal *adminlog.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	journal := adminlog.NewJournal(st, nil, fc)
	archive := history.NewApp(history.NewStoreRepository(st))
	cfg := DefaultConfig()
	cfg.Issuer = identity.NewSeededIssuer(7)
	app := NewApp(NewRepository(st, fc), clock.NewEngine(fc), journal, archive, cfg)
	emitter := &recordingEmitter{}
	app.SetEmitter(emitter)
	return &testEnv{app: app, clock: fc, emitter: emitter, journal: journal}
}

func (env *testEnv) startRound(t *testing.T, theme string, timer, count int) *models.GameView {
	t.Helper()
	view, err := env.app.StartRound(context.Background(), StartRoundRequest{Theme: theme, TimerSeconds: timer, ParticipantCount: count})
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	return view
}

func (env *testEnv) join(t *testing.T, token, name string) *JoinResponse {
	t.Helper()
	res, err := env.app.Join(context.Background(), JoinRequest{Token: token, Name: name})
	if err != nil {
		t.Fatalf("Join(%s): %v", token, err)
	}
	return res
}

func (env *testEnv) state(t *testing.T) *models.GameView {
	t.Helper()
	view, err := env.app.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return view
}

func codeOf(err error) models.ErrorCode {
	code, _ := models.CodeOf(err)
	return code
}

func TestColdStateIsIdleAndStable(t *testing.T) {
	env := newTestEnv(t)
	first := env.state(t)
	second := env.state(t)
	if first.Status != models.GameStatusIdle {
		t.Fatalf("status = %s, want IDLE", first.Status)
	}
	if first.SessionID == "" || first.SessionID != second.SessionID {
		t.Fatalf("session id not stable: %q vs %q", first.SessionID, second.SessionID)
	}
}

func TestStartRoundProperties(t *testing.T) {
	env := newTestEnv(t)
	for i, count := range []int{1, 2, 5, 32} {
		view := env.startRound(t, "Space", 30, count)
		if view.Status != models.GameStatusWaitingForPlayers {
			t.Fatalf("status = %s", view.Status)
		}
		if view.Round != i+1 {
			t.Fatalf("round = %d, want %d", view.Round, i+1)
		}
		if len(view.ValidTokens) != count {
			t.Fatalf("tokens = %d, want %d", len(view.ValidTokens), count)
		}
		seen := map[string]bool{}
		for _, tok := range view.ValidTokens {
			if seen[tok] {
				t.Fatalf("duplicate token %s", tok)
			}
			seen[tok] = true
			if !identity.ValidFormat(tok) {
				t.Fatalf("token %q outside alphabet", tok)
			}
		}
		if len(view.Participants) != 0 || view.GenerationTriggered || view.TimerRunning {
			t.Fatalf("round not reset: %+v", view)
		}
	}
}

func TestStartRoundValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cases := []struct {
		req  StartRoundRequest
		code models.ErrorCode
	}{
		{StartRoundRequest{Theme: "  "}, models.CodeThemeRequired},
		{StartRoundRequest{Theme: "x", TimerSeconds: -1}, models.CodeInvalidTimer},
		{StartRoundRequest{Theme: "x", TimerSeconds: 3601}, models.CodeInvalidTimer},
		{StartRoundRequest{Theme: "x", ParticipantCount: 33}, models.CodeInvalidParticipantCount},
	}
	for _, tc := range cases {
		if _, err := env.app.StartRound(ctx, tc.req); codeOf(err) != tc.code {
			t.Errorf("StartRound(%+v) err = %v, want %s", tc.req, err, tc.code)
		}
	}

	view := env.startRound(t, "Defaults", 0, 0)
	if view.TimerDurationSeconds != models.DefaultTimerSeconds || view.ExpectedParticipantCount != models.DefaultParticipantCount {
		t.Fatalf("defaults not applied: timer %d count %d", view.TimerDurationSeconds, view.ExpectedParticipantCount)
	}
}

func TestJoinBeforeRoundAndWithUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.app.Join(ctx, JoinRequest{Token: "ABCD", Name: "A"}); codeOf(err) != models.CodeGameNotStarted {
		t.Fatalf("err = %v, want GAME_NOT_STARTED", err)
	}
	env.startRound(t, "Cats", 60, 2)
	if _, err := env.app.Join(ctx, JoinRequest{Token: "ZZZZ", Name: "A"}); codeOf(err) != models.CodeInvalidToken {
		t.Fatalf("err = %v, want INVALID_TOKEN", err)
	}
}

func TestFullRoundStartsWritingExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	view := env.startRound(t, "Cats", 60, 2)
	env.join(t, view.ValidTokens[0], "Alice")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := env.app.Join(context.Background(), JoinRequest{Token: strings.ToLower(view.ValidTokens[1]), Name: "Bob"}); err != nil {
			t.Errorf("Join: %v", err)
		}
	}()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.app.State(context.Background())
		}()
	}
	wg.Wait()

	got := env.state(t)
	if got.Status != models.GameStatusWriting || got.TimerStartedAt == nil || !got.TimerRunning {
		t.Fatalf("state after full join = %s started=%v", got.Status, got.TimerStartedAt)
	}
	if got.TimerRemaining != 60 {
		t.Fatalf("timer remaining = %d, want 60", got.TimerRemaining)
	}

	logs, _ := env.journal.List(context.Background())
	started := 0
	for _, l := range logs {
		if strings.HasPrefix(l.Message, "All participants joined") {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("writing started %d times", started)
	}
}

func TestWritingCrossingTriggersGenerationOnce(t *testing.T) {
	env := newTestEnv(t)
	view := env.startRound(t, "Cats", 10, 1)
	env.join(t, view.ValidTokens[0], "Alice")

	env.clock.Advance(11 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.app.State(context.Background())
		}()
	}
	wg.Wait()
	if _, fired, err := env.app.CheckTimers(context.Background()); err != nil || fired {
		t.Fatalf("CheckTimers after crossing: fired=%v err=%v", fired, err)
	}

	got := env.state(t)
	if got.Status != models.GameStatusGenerating || !got.GenerationTriggered || got.TimerRunning {
		t.Fatalf("state = %+v", got)
	}
	if n := len(env.app.GenerationRequests()); n != 1 {
		t.Fatalf("generation requested %d times", n)
	}
	req := <-env.app.GenerationRequests()
	if req.Round != 1 || len(req.Jobs) != 1 || req.Model != generation.DefaultModel {
		t.Fatalf("request = %+v", req)
	}

	if _, err := env.app.TriggerGeneration(context.Background()); codeOf(err) != models.CodeGenerationInProgress {
		t.Fatalf("second trigger err = %v", err)
	}
}

func TestStopTimerPausesWithoutPhaseChange(t *testing.T) {
	env := newTestEnv(t)
	view := env.startRound(t, "Cats", 5, 1)
	env.join(t, view.ValidTokens[0], "Alice")

	got, err := env.app.StopTimer(context.Background())
	if err != nil {
		t.Fatalf("StopTimer: %v", err)
	}
	if got.Status != models.GameStatusWriting || got.TimerRunning {
		t.Fatalf("state = %s running=%v", got.Status, got.TimerRunning)
	}
	env.clock.Advance(time.Minute)
	if s := env.state(t); s.Status != models.GameStatusWriting {
		t.Fatalf("paused timer still crossed: %s", s.Status)
	}
}

func TestPromptUpdatesOnlyWhileWriting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.startRound(t, "Cats", 60, 2)
	a, b := view.ValidTokens[0], view.ValidTokens[1]
	env.join(t, a, "Alice")

	if err := env.app.UpdatePrompt(ctx, a, "too early"); codeOf(err) != models.CodeWrongPhase {
		t.Fatalf("err = %v, want WRONG_PHASE", err)
	}
	if _, err := env.app.Join(ctx, JoinRequest{Token: b, Name: "Bob", ConnectionID: "conn-b"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := env.app.UpdatePrompt(ctx, "conn-b", "a cat in a hat"); err != nil {
		t.Fatalf("UpdatePrompt by connection: %v", err)
	}
	if err := env.app.UpdatePrompt(ctx, "nobody", "x"); codeOf(err) != models.CodeParticipantNotFound {
		t.Fatalf("err = %v, want PARTICIPANT_NOT_FOUND", err)
	}

	data, ok := env.emitter.last(gateway.EventTypePromptUpdate)
	if !ok {
		t.Fatalf("no prompt:update sent")
	}
	if p := data.(gateway.PromptUpdatePayload); p.Token != b || p.Prompt != "a cat in a hat" {
		t.Fatalf("prompt:update = %+v", p)
	}
	if got, _ := env.state(t).Participant(b); got.Prompt != "a cat in a hat" {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestVotesOnlyDuringVoting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.startRound(t, "Cats", 60, 1)
	tok := view.ValidTokens[0]
	env.join(t, tok, "Alice")

	if err := env.app.CastVote(ctx, tok); codeOf(err) != models.CodeWrongPhase {
		t.Fatalf("vote in WRITING err = %v", err)
	}
	if _, err := env.app.StartVoting(ctx); err != nil {
		t.Fatalf("StartVoting: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := env.app.CastVote(ctx, tok); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}
	if err := env.app.CastVote(ctx, "QQQQ"); codeOf(err) != models.CodeParticipantNotFound {
		t.Fatalf("vote for unknown err = %v", err)
	}

	env.clock.Advance(time.Duration(models.DefaultVotingSeconds) * time.Second)
	if err := env.app.CastVote(ctx, tok); codeOf(err) != models.CodeWrongPhase {
		t.Fatalf("vote after voting closed err = %v", err)
	}
	got := env.state(t)
	if got.Status != models.GameStatusEnded {
		t.Fatalf("status = %s, want ENDED", got.Status)
	}
	if p, _ := got.Participant(tok); p.Votes != 3 {
		t.Fatalf("votes = %d, want 3", p.Votes)
	}
}

func TestRejoinWithWrongSecretLeavesSeatUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.startRound(t, "Cats", 60, 2)
	tok := view.ValidTokens[0]
	first, err := env.app.Join(ctx, JoinRequest{Token: tok, Name: "Alice", ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := env.app.Join(ctx, JoinRequest{Token: tok, Name: "Mallory", SessionSecret: "nope", ConnectionID: "c2"}); codeOf(err) != models.CodeInvalidSessionSecret {
		t.Fatalf("err = %v, want INVALID_SESSION_SECRET", err)
	}
	if p, _ := env.state(t).Participant(tok); p.DisplayName != "Alice" || !p.Connected {
		t.Fatalf("participant changed: %+v", p)
	}

	if err := env.app.Disconnect(ctx, "c1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	res, err := env.app.Join(ctx, JoinRequest{Token: tok, Name: "Alice B", SessionSecret: first.SessionSecret, ConnectionID: "c3"})
	if err != nil || !res.Rejoined {
		t.Fatalf("rejoin = %+v, %v", res, err)
	}
	if res.SessionSecret != "" {
		t.Fatalf("secret must only be returned for a new seat")
	}
}

func TestRemoveParticipantFreesSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.startRound(t, "Cats", 60, 2)
	env.join(t, view.ValidTokens[0], "Alice")

	got, err := env.app.RemoveParticipant(ctx, view.ValidTokens[0])
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if len(got.Participants) != 0 {
		t.Fatalf("participants = %+v", got.Participants)
	}
	if _, err := env.app.RemoveParticipant(ctx, view.ValidTokens[0]); codeOf(err) != models.CodeParticipantNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestStaleImageFromReplacedRoundIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	view := env.startRound(t, "Cats", 60, 1)
	tok := view.ValidTokens[0]
	env.join(t, tok, "Alice")
	if _, err := env.app.TriggerGeneration(ctx); err != nil {
		t.Fatalf("TriggerGeneration: %v", err)
	}

	env.startRound(t, "Dogs", 60, 1)
	if err := env.app.SetImage(ctx, generation.RoundRef{SessionID: view.SessionID, Round: 1}, tok, "https://img/old.webp"); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	for _, p := range env.state(t).Participants {
		if p.ImageURL != nil {
			t.Fatalf("stale image applied to %s", p.Token)
		}
	}
}

func TestGenerationFromClosedSessionIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.startRound(t, "Cats", 60, 1)
	env.join(t, old.ValidTokens[0], "Alice")
	if _, err := env.app.TriggerGeneration(ctx); err != nil {
		t.Fatalf("TriggerGeneration: %v", err)
	}
	if _, err := env.app.CloseSession(ctx); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	current := env.startRound(t, "Dogs", 60, 1)
	tok := current.ValidTokens[0]
	env.join(t, tok, "Bob")
	if current.Round != old.Round {
		t.Fatalf("round numbers should restart per session: %d vs %d", current.Round, old.Round)
	}

	stale := generation.RoundRef{SessionID: old.SessionID, Round: old.Round}
	if err := env.app.SetImage(ctx, stale, tok, "https://img/old.webp"); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	if err := env.app.FinishGeneration(ctx, stale, generation.Summary{Round: old.Round}); err != nil {
		t.Fatalf("FinishGeneration: %v", err)
	}
	if p, ok := env.state(t).Participant(tok); !ok || p.ImageURL != nil {
		t.Fatalf("image from the closed session reached %s", tok)
	}
	entries, err := env.journal.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Level == models.LogLevelWarning && strings.HasPrefix(e.Message, "Generation for round 1 finished after") {
			found = true
		}
	}
	if !found {
		t.Fatalf("stale finish not reported: %+v", entries)
	}
}

func TestCloseSessionStartsFreshSession(t *testing.T) {
	env := newTestEnv(t)
	before := env.startRound(t, "Cats", 60, 2)
	after, err := env.app.CloseSession(context.Background())
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if after.Status != models.GameStatusIdle || after.Round != 0 || after.SessionID == before.SessionID {
		t.Fatalf("after close = %+v", after)
	}
}

type instantProvider struct{}

func (instantProvider) Submit(_ context.Context, _ string, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("empty prompt submitted")
	}
	return prompt, nil
}

func (instantProvider) Poll(_ context.Context, id string) (generation.PollResult, error) {
	return generation.PollResult{Status: generation.PollSucceeded, ImageURL: "https://img/" + strings.ReplaceAll(id, " ", "-") + ".webp"}, nil
}

func TestCatsRoundEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	orchestrator := generation.NewOrchestrator(instantProvider{}, env.app, env.journal, generation.Config{
		PollInterval: time.Millisecond,
		RetryDelay:   time.Millisecond,
		Clock:        clockwork.NewRealClock(),
	})

	view := env.startRound(t, "Cats", 60, 2)
	alice, bob := view.ValidTokens[0], view.ValidTokens[1]
	env.join(t, alice, "Alice")
	env.join(t, bob, "Bob")

	got := env.state(t)
	if got.Status != models.GameStatusWriting || got.TimerRemaining != 60 {
		t.Fatalf("after joins: %s remaining %d", got.Status, got.TimerRemaining)
	}
	if err := env.app.UpdatePrompt(ctx, alice, "a cat astronaut"); err != nil {
		t.Fatalf("UpdatePrompt: %v", err)
	}
	if err := env.app.UpdatePrompt(ctx, bob, "a cat chef"); err != nil {
		t.Fatalf("UpdatePrompt: %v", err)
	}

	env.clock.Advance(60 * time.Second)
	got = env.state(t)
	if got.Status != models.GameStatusGenerating || !got.GenerationTriggered {
		t.Fatalf("after timer: %s triggered=%v", got.Status, got.GenerationTriggered)
	}

	summary := orchestrator.Run(ctx, <-env.app.GenerationRequests())
	if summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	got = env.state(t)
	if got.Status != models.GameStatusGenerating {
		t.Fatalf("generation must not advance the round, got %s", got.Status)
	}
	for _, p := range got.Participants {
		if p.ImageURL == nil {
			t.Fatalf("no image for %s", p.Token)
		}
	}

	if got, _ = env.app.StartVoting(ctx); got.Status != models.GameStatusVoting || got.VotingStartedAt == nil {
		t.Fatalf("after start voting: %+v", got)
	}
	for _, tok := range []string{alice, alice, bob} {
		if err := env.app.CastVote(ctx, tok); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}

	env.clock.Advance(120 * time.Second)
	got = env.state(t)
	if got.Status != models.GameStatusEnded {
		t.Fatalf("status = %s, want ENDED", got.Status)
	}
	if len(got.Winners) != 1 || got.Winners[0] != alice {
		t.Fatalf("winners = %v, want [%s]", got.Winners, alice)
	}

	rounds, err := env.app.History(ctx)
	if err != nil || len(rounds) != 1 || rounds[0].Theme != "Cats" {
		t.Fatalf("history = %+v, %v", rounds, err)
	}
	if env.emitter.count(gateway.EventTypeParticipantJoined) != 2 {
		t.Fatalf("participant:joined count = %d", env.emitter.count(gateway.EventTypeParticipantJoined))
	}
}

func TestAppWithoutJournalLogsLevelName(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	fc := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Issuer = identity.NewSeededIssuer(7)
	app := NewApp(NewRepository(store.NewMemoryStore(), fc), clock.NewEngine(fc), nil, nil, cfg)
	if _, err := app.StartRound(context.Background(), StartRoundRequest{Theme: "Cats"}); err != nil {
		t.Fatalf("StartRound: %v", err)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, `"level":`); n != 1 {
			t.Fatalf("line has %d level keys: %s", n, line)
		}
		if strings.Contains(line, `"level_name":"info"`) && strings.Contains(line, "Round 1 started") {
			found = true
		}
	}
	if !found {
		t.Fatalf("round start missing from %s", buf.String())
	}
}
