package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Notifier sends alert notifications to external channels.
type Notifier interface {
	Notify(alerts []Alert) error
}

// slackNotifier sends alert notifications to a Slack webhook.
type slackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Notifier that sends alerts to the given Slack
// webhook URL. Requests time out after ten seconds.
func NewSlackNotifier(webhookURL string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify sends the given alerts to the configured Slack webhook.
// It returns nil without making a request if the alerts slice is empty.
func (s *slackNotifier) Notify(alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msg := s.buildMessage(alerts)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// buildMessage groups alerts by workspace. Each alert is followed by a
// context line with its condition and the observed value against the limit.
func (s *slackNotifier) buildMessage(alerts []Alert) slackMessage {
	var order []string
	byWorkspace := make(map[string][]Alert)
	for _, a := range alerts {
		if _, ok := byWorkspace[a.Workspace]; !ok {
			order = append(order, a.Workspace)
		}
		byWorkspace[a.Workspace] = append(byWorkspace[a.Workspace], a)
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "tasksync Alert Summary"}},
		{Type: "context", Elements: []slackText{{
			Type: "mrkdwn",
			Text: fmt.Sprintf("%d %s in %d %s",
				len(alerts), plural(len(alerts), "alert", "alerts"),
				len(order), plural(len(order), "workspace", "workspaces")),
		}}},
	}

	for i, ws := range order {
		if i > 0 {
			blocks = append(blocks, slackBlock{Type: "divider"})
		}
		title := "*All workspaces*"
		if ws != "" {
			title = fmt.Sprintf("*Workspace* `%s`", ws)
		}
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: title}})

		for _, alert := range byWorkspace[ws] {
			blocks = append(blocks,
				slackBlock{
					Type: "section",
					Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("%s *[%s]* %s",
						severityEmoji(alert.Severity),
						strings.ToUpper(string(alert.Severity)),
						alert.Message,
					)},
				},
				slackBlock{
					Type: "context",
					Elements: []slackText{{
						Type: "mrkdwn",
						Text: fmt.Sprintf("`%s` observed %d, limit %d, %s",
							alert.Condition, alert.Observed, alert.Limit,
							alert.TriggeredAt.Format("2006-01-02 15:04 UTC")),
					}},
				},
			)
		}
	}

	return slackMessage{Blocks: blocks}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "\u2753"
	}
}
