package notify

import (
	"github.com/tsmon/tsmon/internal/config"
	"github.com/tsmon/tsmon/internal/logging"
)

// BuildServices constructs one Service per configured destination, keyed by
// destination ID. Entries with an empty ID or an unknown type are skipped;
// credential completeness is reported by config.Validate at startup.
func BuildServices(dests []config.Destination) map[string]Service {
	services := make(map[string]Service, len(dests))
	for _, d := range dests {
		if d.ID == "" {
			continue
		}
		svc := buildService(d)
		if svc == nil {
			logging.Get().Warn().Str("id", d.ID).Str("type", d.Type).Msg("skipping destination with unknown type")
			continue
		}
		services[d.ID] = svc
	}
	return services
}

func buildService(d config.Destination) Service {
	switch d.Type {
	case "discord":
		return &Discord{WebhookURL: d.WebhookURL}
	case "slack":
		return &Slack{WebhookURL: d.WebhookURL}
	case "teams":
		return &Teams{WebhookURL: d.WebhookURL}
	case "telegram":
		return &Telegram{BotToken: d.BotToken, ChatID: d.ChatID}
	case "mastodon":
		return &Mastodon{ServerURL: d.ServerURL, AccessToken: d.Token}
	case "gotify":
		return &Gotify{ServerURL: d.ServerURL, Token: d.Token}
	case "pushover":
		return &Pushover{UserKey: d.UserKey, APIToken: d.APIToken}
	case "apprise":
		return &Apprise{APIURL: d.WebhookURL}
	case "generic":
		return &Generic{WebhookURL: d.WebhookURL}
	case "email":
		return &Email{Host: d.Host, Port: d.Port, User: d.User, Pass: d.Pass, To: d.To}
	}
	return nil
}
