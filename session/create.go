package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"planetsync/core"
)

// CreateWorld asks the relay for a fresh world and returns its id
func CreateWorld(ctx context.Context, client *http.Client, relayURL string) (core.WorldInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var info core.WorldInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/worlds", nil)
	if err != nil {
		return info, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return info, fmt.Errorf("create world: relay answered %s", resp.Status)
	}
	err = decodeJSON(resp.Body, &info)
	return info, err
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	return nil
}
