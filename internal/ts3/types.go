// Package ts3 implements a TeamSpeak 3 ServerQuery session and the read-only
// queries tsmon needs: client list, channel list and server info.
package ts3

// Client types reported by the server. Query sessions never reach callers.
const (
	clientTypeRegular = 0
	clientTypeQuery   = 1
)

// Client is a point-in-time record of one connected client.
type Client struct {
	ID         int    // clid, unique per session
	Nickname   string
	DatabaseID int
	ChannelID  int
	Type       int
}

// Channel is a summary of one channel.
type Channel struct {
	ID           int
	Name         string
	TotalClients int
}

// ServerStatus aggregates virtual-server info with the live client and
// channel listings. Built by FetchStatus.
type ServerStatus struct {
	Name           string
	Platform       string
	Version        string
	ClientsOnline  int
	MaxClients     int
	ChannelsOnline int
	UptimeSeconds  int
	Clients        []Client
	Channels       []Channel
}
