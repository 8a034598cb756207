package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"visage-pipeline/pkg/errors"
)

// narrativeRequest is the body of the service's narrative endpoint.
type narrativeRequest struct {
	Input string `json:"input"`
}

// narrativeResponse is the body returned by the narrative endpoint.
type narrativeResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Narrate asks the analysis service to turn a prompt (typically the session's
// emotion timeline) into report prose. Used once at session end.
func (c *Client) Narrate(ctx context.Context, input string) (string, error) {
	if input == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "narrative input is empty")
	}

	payload, err := json.Marshal(narrativeRequest{Input: input})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode narrative request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/gpt", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to build narrative request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "narrative transport failure").WithCode("TRANSPORT")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", errors.NewServerStatus(resp.StatusCode)
	}

	var out narrativeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.NewDecodeFailed(err)
	}

	return out.Response, nil
}
