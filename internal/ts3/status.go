package ts3

import (
	"strconv"

	"github.com/tsmon/tsmon/internal/logging"
)

// FetchStatus composes serverinfo, clientlist and channellist into one
// ServerStatus. serverinfo is required; listing failures degrade to empty
// slices so a partial outage still produces a report.
func FetchStatus(q Query) (*ServerStatus, error) {
	info, err := q.ServerInfo()
	if err != nil {
		return nil, err
	}

	clients, err := q.ListClients()
	if err != nil {
		logging.Get().Warn().Err(err).Msg("clientlist failed while building status")
	}
	channels, err := q.ListChannels()
	if err != nil {
		logging.Get().Warn().Err(err).Msg("channellist failed while building status")
	}

	online := atoi(info["virtualserver_clientsonline"])
	if online > 0 {
		// the query session itself is counted by the server
		online--
	}

	return &ServerStatus{
		Name:           info["virtualserver_name"],
		Platform:       info["virtualserver_platform"],
		Version:        info["virtualserver_version"],
		ClientsOnline:  online,
		MaxClients:     atoi(info["virtualserver_maxclients"]),
		ChannelsOnline: atoi(info["virtualserver_channelsonline"]),
		UptimeSeconds:  atoi(info["virtualserver_uptime"]),
		Clients:        clients,
		Channels:       channels,
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
