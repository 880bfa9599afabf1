package settlement

import "encoding/json"

// webhookEvent is the minimal shape this engine needs out of a Lenco
// transfer webhook payload; the provider's full payload carries more
// fields, but the engine only acts on these.
type webhookEvent struct {
	Type           string `json:"event"`
	Reference      string `json:"reference"`
	FailureMessage string `json:"failureMessage"`
}

func parseWebhookEvent(rawBody []byte) (*webhookEvent, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference      string `json:"reference"`
			FailureMessage string `json:"failureMessage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, err
	}
	return &webhookEvent{
		Type:           payload.Event,
		Reference:      payload.Data.Reference,
		FailureMessage: payload.Data.FailureMessage,
	}, nil
}
