package ts3

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tsmon/tsmon/internal/logging"
)

// ErrNotConnected is returned when a query is attempted on a closed session.
var ErrNotConnected = errors.New("ts3: not connected")

// DefaultTimeout bounds dialing and each command round-trip.
const DefaultTimeout = 10 * time.Second

// Query is the read-only ServerQuery session consumed by the monitor and the
// registry. Implementations return errors rather than panicking; callers own
// retry and reconnect policy.
type Query interface {
	Connect() error
	Disconnect()
	ListClients() ([]Client, error)
	ListChannels() ([]Channel, error)
	ServerInfo() (map[string]string, error)
}

// Conn is a Query backed by a raw ServerQuery TCP session. It is not safe for
// concurrent use: each monitor owns its connection exclusively.
type Conn struct {
	host          string
	port          int
	user          string
	pass          string
	virtualServer int
	timeout       time.Duration

	c net.Conn
	r *bufio.Reader
}

// NewConn builds an unconnected session. Call Connect before issuing queries.
func NewConn(host string, port int, user, pass string, virtualServer int) *Conn {
	return &Conn{
		host:          host,
		port:          port,
		user:          user,
		pass:          pass,
		virtualServer: virtualServer,
		timeout:       DefaultTimeout,
	}
}

// Connect dials the query port, performs the banner handshake, authenticates
// and selects the virtual server. Any existing session is closed first.
func (q *Conn) Connect() error {
	if q.c != nil {
		q.Disconnect()
	}
	addr := net.JoinHostPort(q.host, strconv.Itoa(q.port))
	conn, err := net.DialTimeout("tcp", addr, q.timeout)
	if err != nil {
		return fmt.Errorf("ts3: dial %s: %w", addr, err)
	}
	q.c = conn
	q.r = bufio.NewReader(conn)

	// Greeting is the literal "TS3" followed by a welcome line.
	banner, err := q.readLine()
	if err != nil {
		q.close()
		return fmt.Errorf("ts3: reading banner: %w", err)
	}
	if !strings.HasPrefix(banner, "TS3") {
		q.close()
		return fmt.Errorf("ts3: unexpected banner %q", banner)
	}
	if _, err := q.readLine(); err != nil {
		q.close()
		return fmt.Errorf("ts3: reading welcome line: %w", err)
	}

	login := fmt.Sprintf("login client_login_name=%s client_login_password=%s", escape(q.user), escape(q.pass))
	if _, err := q.exec(login); err != nil {
		q.close()
		return fmt.Errorf("ts3: login: %w", err)
	}
	if _, err := q.exec(fmt.Sprintf("use sid=%d", q.virtualServer)); err != nil {
		q.close()
		return fmt.Errorf("ts3: use sid=%d: %w", q.virtualServer, err)
	}
	logging.Get().Info().Str("host", q.host).Int("port", q.port).Msg("serverquery session established")
	return nil
}

// Disconnect sends a best-effort quit and closes the connection. Safe to call
// on an already-closed session.
func (q *Conn) Disconnect() {
	if q.c == nil {
		return
	}
	_ = q.c.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = q.c.Write([]byte("quit\n"))
	q.close()
	logging.Get().Debug().Str("host", q.host).Msg("serverquery session closed")
}

func (q *Conn) close() {
	if q.c != nil {
		_ = q.c.Close()
		q.c = nil
		q.r = nil
	}
}

// ListClients returns the connected clients, excluding query sessions.
func (q *Conn) ListClients() ([]Client, error) {
	body, err := q.exec("clientlist")
	if err != nil {
		return nil, err
	}
	var clients []Client
	for _, entry := range parseBlock(body) {
		if intField(entry, "client_type") == clientTypeQuery {
			continue
		}
		clients = append(clients, Client{
			ID:         intField(entry, "clid"),
			Nickname:   entry["client_nickname"],
			DatabaseID: intField(entry, "client_database_id"),
			ChannelID:  intField(entry, "cid"),
			Type:       clientTypeRegular,
		})
	}
	return clients, nil
}

// ListChannels returns the channel summaries of the selected virtual server.
func (q *Conn) ListChannels() ([]Channel, error) {
	body, err := q.exec("channellist")
	if err != nil {
		return nil, err
	}
	var channels []Channel
	for _, entry := range parseBlock(body) {
		channels = append(channels, Channel{
			ID:           intField(entry, "cid"),
			Name:         entry["channel_name"],
			TotalClients: intField(entry, "total_clients"),
		})
	}
	return channels, nil
}

// ServerInfo returns the raw serverinfo key-value map.
func (q *Conn) ServerInfo() (map[string]string, error) {
	body, err := q.exec("serverinfo")
	if err != nil {
		return nil, err
	}
	entries := parseBlock(body)
	if len(entries) == 0 {
		return nil, errors.New("ts3: empty serverinfo response")
	}
	return entries[0], nil
}

// exec writes one command and reads until the status line, returning the body
// that preceded it.
func (q *Conn) exec(cmd string) (string, error) {
	if q.c == nil {
		return "", ErrNotConnected
	}
	deadline := time.Now().Add(q.timeout)
	if err := q.c.SetDeadline(deadline); err != nil {
		return "", err
	}
	if _, err := q.c.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("ts3: write: %w", err)
	}
	var body []string
	for {
		line, err := q.readLine()
		if err != nil {
			return "", fmt.Errorf("ts3: read: %w", err)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "error ") {
			return strings.Join(body, "|"), parseStatus(line)
		}
		body = append(body, line)
	}
}

// readLine reads a single response line. The server terminates lines with
// "\n\r", so a stray carriage return may lead the next line.
func (q *Conn) readLine() (string, error) {
	line, err := q.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.Trim(line, "\r\n"), nil
}
