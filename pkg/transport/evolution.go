package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexusflow/funnel/pkg/models"
)

const DefaultEvolutionURL = "https://evo.nexusflow.info"

const evolutionTimeout = 30 * time.Second

// EvolutionClient sends WhatsApp text messages through the Evolution API.
// Authentication uses the per-instance token, not a global API key.
type EvolutionClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewEvolutionClient(baseURL string, logger *slog.Logger) *EvolutionClient {
	if baseURL == "" {
		baseURL = DefaultEvolutionURL
	}

	return &EvolutionClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: evolutionTimeout},
		logger:  logger.With("module", "evolution"),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (c *EvolutionClient) SendText(ctx context.Context, instance *models.MessagingInstance, phone, text string) error {
	if instance.Token == "" {
		return fmt.Errorf("instance %s has no token configured", instance.InstanceName)
	}

	payload, err := json.Marshal(sendTextRequest{Number: phone, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/text", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("apikey", instance.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send text request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("send text failed with status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.InfoContext(ctx, "WhatsApp message sent",
		"instance", instance.InstanceName,
		"phone", phone,
		"status", resp.StatusCode)

	return nil
}
