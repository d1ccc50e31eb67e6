// Package signal carries session descriptions between the two peers, either as
// an HTTP round trip to the receiver's /offer endpoint or over MQTT.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/SB-IM/camlink/internal/session"
)

const maxAnswerSize = 1 << 20

// HTTPClient posts offers to a remote /offer endpoint.
type HTTPClient struct {
	config HTTPConfigOptions
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPClient returns an HTTPClient.
func NewHTTPClient(config HTTPConfigOptions, logger *zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "signal").Str("url", config.URL).Logger(),
	}
}

// SendOffer posts offer as JSON and decodes the answer. Transport errors are
// reported as session.ErrSignalingUnreachable, a non-2xx status or an undecodable
// body as session.ErrSignalingRejected.
func (h *HTTPClient) SendOffer(ctx context.Context, offer session.Description) (session.Description, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return session.Description{}, fmt.Errorf("could not marshal offer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(body))
	if err != nil {
		return session.Description{}, fmt.Errorf("%w: %v", session.ErrSignalingUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return session.Description{}, fmt.Errorf("%w: %v", session.ErrSignalingUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return session.Description{}, fmt.Errorf("%w: could not read answer: %v", session.ErrSignalingUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.logger.Debug().Int("status", resp.StatusCode).Bytes("body", data).Msg("offer rejected")
		return session.Description{}, fmt.Errorf("%w: %s", session.ErrSignalingRejected, resp.Status)
	}

	var answer session.Description
	if err := json.Unmarshal(data, &answer); err != nil {
		return session.Description{}, fmt.Errorf("%w: could not decode answer: %v", session.ErrSignalingRejected, err)
	}
	h.logger.Info().Msg("received answer")
	return answer, nil
}
