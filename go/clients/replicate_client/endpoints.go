package replicate_client

const (
	BaseURL = "https://api.replicate.com"

	JsonHeader      = "Content-Type"
	JsonContentType = "application/json"
	AuthHeader      = "Authorization"

	// {owner}/{name}
	ModelPredictionsEndpoint = "/v1/models/%s/predictions"
	// {id}
	PredictionEndpoint = "/v1/predictions/%s"
)
