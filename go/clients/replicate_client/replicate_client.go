package replicate_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mcdev12/promptclash/go/clients"
)

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the prediction will not change again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Prediction is the subset of the Replicate prediction object we use.
type Prediction struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Status    Status          `json:"status"`
	Output    json.RawMessage `json:"output"`
	Error     json.RawMessage `json:"error"`
	CreatedAt *time.Time      `json:"created_at"`
}

// ErrNoOutput is returned when a prediction carries no usable image URL.
var ErrNoOutput = errors.New("prediction has no output")

// ImageURL returns the output URL. Models answer with either a string or a
// list of strings; the first entry of a list is used.
func (p *Prediction) ImageURL() (string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return "", ErrNoOutput
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return "", ErrNoOutput
		}
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		if len(list) == 0 || list[0] == "" {
			return "", ErrNoOutput
		}
		return list[0], nil
	}
	return "", fmt.Errorf("%w: unexpected output shape", ErrNoOutput)
}

// ErrorMessage returns the provider's error text, if any.
func (p *Prediction) ErrorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}

type ReplicateClient struct {
	*clients.BaseClient
}

// NewReplicateClient creates a client. An empty baseURL means the public API.
func NewReplicateClient(apiToken, baseURL string) *ReplicateClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	client := &ReplicateClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}
	client.SetHeader(JsonHeader, JsonContentType)
	client.SetHeader(AuthHeader, "Bearer "+apiToken)
	return client
}

// CreatePrediction starts a prediction on model ("owner/name").
func (c *ReplicateClient) CreatePrediction(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid model %q: want owner/name", model)
	}
	endpoint := fmt.Sprintf(ModelPredictionsEndpoint, url.PathEscape(owner)+"/"+url.PathEscape(name))

	var p Prediction
	if err := c.PostJSON(ctx, endpoint, map[string]any{"input": input}, &p); err != nil {
		return nil, fmt.Errorf("failed to create prediction: %w", err)
	}
	if p.ID == "" {
		return nil, errors.New("failed to create prediction: response has no id")
	}
	return &p, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var p Prediction
	if err := c.GetJSON(ctx, fmt.Sprintf(PredictionEndpoint, url.PathEscape(id)), &p); err != nil {
		return nil, fmt.Errorf("failed to get prediction %s: %w", id, err)
	}
	return &p, nil
}
