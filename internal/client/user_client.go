package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// UserClient handles communication with the User Service
type UserClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewUserClient creates a new User Service client
func NewUserClient(baseURL string, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ValidateToken validates a user's token with the User Service
func (c *UserClient) ValidateToken(ctx context.Context, token string) (int, error) {
	url := fmt.Sprintf("%s/api/v1/auth/validate", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	// Add the token to be validated
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Service-Key", "simulation-service-key")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to validate token with User Service", zap.Error(err))
		return 0, err
	}
	defer resp.Body.Close()

	// Check response status
	if resp.StatusCode == http.StatusUnauthorized {
		return 0, fmt.Errorf("invalid token")
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("User service returned unexpected status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(bodyBytes)))
		return 0, fmt.Errorf("user service returned status code %d", resp.StatusCode)
	}

	var response struct {
		Valid  bool `json:"valid"`
		UserID int  `json:"user_id"`
	}

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		c.logger.Error("Failed to decode validation response", zap.Error(err))
		return 0, err
	}

	if !response.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	return response.UserID, nil
}
