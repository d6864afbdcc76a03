package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"presence-service/internal/models"
)

// FetchHistory loads the conversation between userID and peer from the REST
// history endpoint at baseURL (e.g. http://host:3001). With an empty token the
// caller is identified through X-User-ID.
func FetchHistory(ctx context.Context, httpClient *http.Client, baseURL, userID, token, peer string) ([]models.Message, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/messages/"+url.PathEscape(peer), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.Messages, nil
}
