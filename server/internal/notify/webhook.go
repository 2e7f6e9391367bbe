package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deliver sends ev to all configured targets. Errors are logged only.
func (n *Notifier) deliver(ev Event) {
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, ev)
		case "teams":
			err = n.sendTeams(url, ev)
		case "http":
			err = n.sendHTTP(url, ev)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed", "type", wh.Type, "event", ev.ID, "err", err)
		} else {
			slog.Debug("notify: webhook delivered", "type", wh.Type, "event", ev.ID)
		}
	}
}

func (n *Notifier) sendSlack(url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": "*[topicwatch]* " + ev.Message,
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, ev Event) error {
	color := "00D4FF"
	if len(ev.Removed) > 0 {
		color = "FFAB40"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color,
		"summary":    "Topics changed",
		"title":      "topicwatch: topics changed",
		"text":       ev.Message,
	})
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, ev Event) error {
	body, _ := json.Marshal(map[string]interface{}{"event": ev})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
