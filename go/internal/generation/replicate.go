package generation

import (
	"context"

	"github.com/mcdev12/promptclash/go/clients/replicate_client"
)

// PredictionClient is the part of the Replicate client the provider uses.
type PredictionClient interface {
	CreatePrediction(ctx context.Context, model string, input map[string]any) (*replicate_client.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate_client.Prediction, error)
}

// ReplicateProvider runs jobs on Replicate using catalogue inputs per model.
type ReplicateProvider struct {
	client    PredictionClient
	catalogue *Catalogue
}

func NewReplicateProvider(client PredictionClient, catalogue *Catalogue) *ReplicateProvider {
	return &ReplicateProvider{client: client, catalogue: catalogue}
}

func (p *ReplicateProvider) Submit(ctx context.Context, model, prompt string) (string, error) {
	input, err := p.catalogue.InputFor(model, prompt)
	if err != nil {
		return "", err
	}
	prediction, err := p.client.CreatePrediction(ctx, model, input)
	if err != nil {
		return "", err
	}
	return prediction.ID, nil
}

func (p *ReplicateProvider) Poll(ctx context.Context, id string) (PollResult, error) {
	prediction, err := p.client.GetPrediction(ctx, id)
	if err != nil {
		return PollResult{}, err
	}
	switch prediction.Status {
	case replicate_client.StatusSucceeded:
		url, err := prediction.ImageURL()
		if err != nil {
			return PollResult{Status: PollFailed, Error: err.Error()}, nil
		}
		return PollResult{Status: PollSucceeded, ImageURL: url}, nil
	case replicate_client.StatusFailed:
		return PollResult{Status: PollFailed, Error: prediction.ErrorMessage()}, nil
	case replicate_client.StatusCanceled:
		return PollResult{Status: PollCanceled, Error: prediction.ErrorMessage()}, nil
	default:
		return PollResult{Status: PollPending}, nil
	}
}
