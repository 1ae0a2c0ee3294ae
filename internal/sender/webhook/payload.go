package webhook

import (
	"net/url"
	"strings"
	"time"
)

// AlertPayload is the generic JSON document posted to plain webhook
// endpoints.
type AlertPayload struct {
	Type      string      `json:"type"`
	Monitor   MonitorInfo `json:"monitor"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// MonitorInfo identifies the monitor an alert belongs to.
type MonitorInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// BuildPayload returns the payload shape matching the target endpoint:
// Slack and Discord webhook URLs get their native message formats, anything
// else the generic alert payload.
func BuildPayload(target, monitorID, monitorName, monitorURL, message string, ts time.Time) any {
	switch detectService(target) {
	case "slack":
		return buildSlackPayload(monitorName, monitorURL, message, ts)
	case "discord":
		return buildDiscordPayload(monitorName, monitorURL, message, ts)
	default:
		return &AlertPayload{
			Type: "monitor.alert",
			Monitor: MonitorInfo{
				ID:   monitorID,
				Name: monitorName,
				URL:  monitorURL,
			},
			Message:   message,
			Timestamp: ts,
		}
	}
}

func detectService(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "hooks.slack.com":
		return "slack"
	case host == "discord.com" || host == "discordapp.com":
		return "discord"
	}
	return ""
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackPayload(monitorName, monitorURL, message string, ts time.Time) *slackPayload {
	return &slackPayload{
		Text: "Monitor Alert",
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: "Monitor Alert"},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: "*Monitor:*\n" + monitorName},
					{Type: "mrkdwn", Text: "*URL:*\n" + monitorURL},
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Message:*\n" + message},
			},
			{
				Type: "context",
				Elements: []slackText{
					{Type: "mrkdwn", Text: "Triggered at " + ts.Format(time.RFC3339)},
				},
			},
		},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func buildDiscordPayload(monitorName, monitorURL, message string, ts time.Time) *discordPayload {
	return &discordPayload{
		Embeds: []discordEmbed{
			{
				Title: "Monitor Alert",
				Color: 0xff0000,
				Fields: []discordField{
					{Name: "Monitor", Value: monitorName, Inline: true},
					{Name: "URL", Value: monitorURL, Inline: true},
					{Name: "Message", Value: message, Inline: false},
				},
				Timestamp: ts.Format(time.RFC3339),
			},
		},
	}
}
