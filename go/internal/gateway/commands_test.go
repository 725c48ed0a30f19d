package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mcdev12/promptclash/go/internal/models"
)

type fakeCommands struct {
	joined     JoinCommand
	promptRef  string
	prompt     models.PromptText
	voted      string
	disconnect string
	err        error
}

func (f *fakeCommands) Join(ctx context.Context, cmd JoinCommand) (*JoinReply, error) {
	f.joined = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &JoinReply{SessionSecret: "s"}, nil
}

func (f *fakeCommands) UpdatePrompt(ctx context.Context, ref string, prompt models.PromptText) error {
	f.promptRef, f.prompt = ref, prompt
	return f.err
}

func (f *fakeCommands) CastVote(ctx context.Context, token string) error {
	f.voted = token
	return f.err
}

func (f *fakeCommands) Disconnect(ctx context.Context, connectionID string) error {
	f.disconnect = connectionID
	return f.err
}

func TestDispatchBindsConnection(t *testing.T) {
	cmds := &fakeCommands{}
	ctx := context.Background()

	_, err := dispatch(ctx, cmds, "conn-1", CommandJoin, json.RawMessage(`{"token":"ab23","name":"Ada","connectionId":"spoofed"}`))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if cmds.joined.ConnectionID != "conn-1" || cmds.joined.Token != "ab23" {
		t.Fatalf("join command = %+v", cmds.joined)
	}

	if _, err := dispatch(ctx, cmds, "conn-1", CommandUpdatePrompt, json.RawMessage(`{"prompt":{"prompt":"koi"}}`)); err != nil {
		t.Fatalf("update prompt: %v", err)
	}
	if cmds.promptRef != "conn-1" || cmds.prompt != "koi" {
		t.Fatalf("prompt routed to %q with %q", cmds.promptRef, cmds.prompt)
	}

	if _, err := dispatch(ctx, cmds, "conn-1", CommandVote, json.RawMessage(`{"participantId":"CD45"}`)); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if cmds.voted != "CD45" {
		t.Fatalf("vote went to %q", cmds.voted)
	}
}

func TestDispatchErrors(t *testing.T) {
	cmds := &fakeCommands{}
	ctx := context.Background()

	_, err := dispatch(ctx, cmds, "c", CommandUpdatePrompt, json.RawMessage(`{"prompt":42}`))
	if body := NewErrorBody(err); body.Code != models.CodeInvalidPrompt {
		t.Fatalf("bad prompt code = %s", body.Code)
	}

	_, err = dispatch(ctx, cmds, "c", "dance", nil)
	if body := NewErrorBody(err); body.Code != "UNKNOWN_COMMAND" {
		t.Fatalf("unknown command code = %s", body.Code)
	}

	cmds.err = models.ErrInvalidToken
	_, err = dispatch(ctx, cmds, "c", CommandJoin, json.RawMessage(`{"token":"x","name":"y"}`))
	if body := NewErrorBody(err); body.Code != models.CodeInvalidToken || body.Message == "" {
		t.Fatalf("client error body = %+v", body)
	}
}

func TestRelayIgnoresOwnEvents(t *testing.T) {
	r := &Relay{instanceID: "me"}

	own, _ := json.Marshal(Event{Type: EventTypeStateUpdate, Origin: "me"})
	if _, ok := r.accept(own); ok {
		t.Fatalf("relay accepted its own event")
	}
	remote, _ := json.Marshal(Event{Type: EventTypeStateUpdate, Origin: "other"})
	if ev, ok := r.accept(remote); !ok || ev.Type != EventTypeStateUpdate {
		t.Fatalf("relay rejected remote event")
	}
	unknown, _ := json.Marshal(Event{Type: "mystery", Origin: "other"})
	if _, ok := r.accept(unknown); ok {
		t.Fatalf("relay accepted unknown type")
	}
}
