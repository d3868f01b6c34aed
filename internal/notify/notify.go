// Package notify renders monitor events into messages and delivers them to
// configured destinations. Providers live in chat.go, system.go and email.go;
// retry and queueing behavior lives in dispatcher.go.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Service is the interface all delivery providers must implement
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Mentioner is implemented by providers whose transport supports a broadcast
// mention. The tag is prepended to the message body on the first delivery
// attempt only.
type Mentioner interface {
	MentionTag() string
}

// postJSON is a shared helper used by providers
func postJSON(ctx context.Context, url string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
