package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/tsmon/tsmon/internal/ts3"
)

// Message is a fully rendered notification.
type Message struct {
	Title string
	Body  string
}

// statusClientListCap bounds how many nicknames a status report names before
// collapsing to a count.
const statusClientListCap = 10

// BuildJoinMessage renders a client-join notification. Pure: output depends
// only on the arguments.
func BuildJoinMessage(serverName string, c ts3.Client, at time.Time) Message {
	return Message{
		Title: fmt.Sprintf("Client joined: %s", serverName),
		Body: fmt.Sprintf("Server: %s\nClient: %s\nTime: %s",
			serverName, c.Nickname, at.Format("15:04:05")),
	}
}

// BuildLeaveMessage renders a client-leave notification.
func BuildLeaveMessage(serverName string, c ts3.Client, at time.Time) Message {
	return Message{
		Title: fmt.Sprintf("Client left: %s", serverName),
		Body: fmt.Sprintf("Server: %s\nClient: %s\nTime: %s",
			serverName, c.Nickname, at.Format("15:04:05")),
	}
}

// BuildStatusMessage renders a periodic server status report.
func BuildStatusMessage(serverName string, st *ts3.ServerStatus, at time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", serverName)
	fmt.Fprintf(&b, "Name: %s\n", st.Name)
	fmt.Fprintf(&b, "Online: %d/%d\n", st.ClientsOnline, st.MaxClients)
	fmt.Fprintf(&b, "Channels: %d\n", st.ChannelsOnline)
	fmt.Fprintf(&b, "Uptime: %s\n", FormatDuration(st.UptimeSeconds))
	fmt.Fprintf(&b, "Clients: %s\n", clientList(st.Clients))
	fmt.Fprintf(&b, "Updated: %s", at.Format("2006-01-02 15:04:05"))
	return Message{
		Title: fmt.Sprintf("Server status: %s", serverName),
		Body:  b.String(),
	}
}

func clientList(clients []ts3.Client) string {
	if len(clients) == 0 {
		return "nobody online"
	}
	names := make([]string, 0, len(clients))
	for _, c := range clients {
		names = append(names, c.Nickname)
	}
	if len(names) <= statusClientListCap {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:statusClientListCap], ", "), len(names)-statusClientListCap)
}

// FormatDuration formats a second count as "1d 2h 30m". Sub-minute values
// round down to "0m".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0m"
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}
