package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"parley/internal/api"
	"parley/internal/config"
)

var sweepPaths = map[string]string{
	"presence": "/admin/presence/sweep",
	"typing":   "/admin/typing/sweep",
}

// Sweep asks the running server to run the named sweep and prints how many
// records it changed.
func Sweep(ctx context.Context, kind string, cfg *config.Config, out io.Writer) error {
	path, ok := sweepPaths[kind]
	if !ok {
		return fmt.Errorf("unknown sweep %q, expected presence or typing", kind)
	}

	url := fmt.Sprintf("http://%s%s", cfg.AdminAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sweep failed (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AdminResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "%s sweep done, %d removed\n", kind, result.Removed)
	return nil
}
