package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call sends body as JSON and decodes a 2xx reply into out.
func call(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(baseURL(), "/")+path, rd)
	if err != nil {
		return err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the service running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sendMessage posts one envelope to /messages and surfaces a failed reply
// as an error.
func sendMessage(msg map[string]any) (messaging.Response, error) {
	var resp messaging.Response
	if err := call("POST", "/messages", msg, &resp); err != nil {
		return nil, err
	}
	if ok, present := resp["success"].(bool); present && !ok {
		return resp, fmt.Errorf("%s: %v", msg["type"], resp["error"])
	}
	return resp, nil
}
