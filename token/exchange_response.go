package token

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// exchangeResponse is the OAuth token-exchange response body: an access
// token and its lifetime in seconds.
type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func decodeExchangeResponse(resp *http.Response) (string, int64, error) {
	var body exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("decode json: %w", err)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("response missing access_token")
	}
	if body.ExpiresIn <= 0 {
		body.ExpiresIn = int64(refreshMargin.Seconds()) * 2
	}
	return body.AccessToken, body.ExpiresIn, nil
}
