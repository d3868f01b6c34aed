package ts3

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerQuery escapes a fixed set of characters in parameter values.
// https-style docs call this the "ServerQuery escape table".
var escaper = strings.NewReplacer(
	`\`, `\\`,
	"/", `\/`,
	" ", `\s`,
	"|", `\p`,
	"\a", `\a`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\v", `\v`,
)

var unescaper = strings.NewReplacer(
	`\\`, `\`,
	`\/`, "/",
	`\s`, " ",
	`\p`, "|",
	`\a`, "\a",
	`\b`, "\b",
	`\f`, "\f",
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\v`, "\v",
)

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }

// parseBlock splits a ServerQuery response body into entries. Entries are
// separated by '|', key=value pairs within an entry by spaces, and values are
// escaped per the ServerQuery table.
func parseBlock(body string) []map[string]string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	parts := strings.Split(body, "|")
	entries := make([]map[string]string, 0, len(parts))
	for _, part := range parts {
		entry := make(map[string]string)
		for _, kv := range strings.Fields(part) {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				entry[unescape(kv[:i])] = unescape(kv[i+1:])
			} else {
				entry[unescape(kv)] = ""
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// parseStatus interprets the trailing "error id=... msg=..." line. A non-zero
// id becomes an error.
func parseStatus(line string) error {
	fields := parseBlock(strings.TrimPrefix(line, "error"))
	if len(fields) == 0 {
		return fmt.Errorf("ts3: malformed status line %q", line)
	}
	id := fields[0]["id"]
	if id == "0" {
		return nil
	}
	return fmt.Errorf("ts3: server error %s: %s", id, fields[0]["msg"])
}

// intField reads an integer field from an entry, returning 0 when absent or
// unparsable. The server occasionally omits optional fields.
func intField(entry map[string]string, key string) int {
	n, _ := strconv.Atoi(entry[key])
	return n
}
