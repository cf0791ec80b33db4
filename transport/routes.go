package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// ParsePort validates a numeric listen port.
func ParsePort(port string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPort, n)
	}
	return n, nil
}

// JoinAddress builds the host:port address advertised as message source.
func JoinAddress(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return host + ":" + strconv.Itoa(port)
}

type routeKey struct {
	mtype int32
	subID int32
}

type route struct {
	groups [][]string
	cursor []atomic.Uint32
}

// RouteTable maps message types (optionally qualified by subscription id) to
// endpoint groups. Every group receives one copy of a message; members of a
// group are used round-robin.
type RouteTable struct {
	routes map[routeKey]*route
}

// NewRouteTable returns an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[routeKey]*route)}
}

// Add installs groups for (mtype, subID). Use UnsetSubID for plain rte entries.
// Add is not safe to call while the table is being used for lookups.
func (rt *RouteTable) Add(mtype, subID int32, groups ...[]string) {
	r := &route{}
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		r.groups = append(r.groups, append([]string(nil), g...))
	}
	r.cursor = make([]atomic.Uint32, len(r.groups))
	rt.routes[routeKey{mtype: mtype, subID: subID}] = r
}

// Targets picks one endpoint per group for the message. A lookup for a specific
// subscription id falls back to the unqualified entry.
func (rt *RouteTable) Targets(mtype, subID int32) ([]string, bool) {
	if rt == nil {
		return nil, false
	}
	r, ok := rt.routes[routeKey{mtype: mtype, subID: subID}]
	if !ok && subID != UnsetSubID {
		r, ok = rt.routes[routeKey{mtype: mtype, subID: UnsetSubID}]
	}
	if !ok || len(r.groups) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(r.groups))
	for i, g := range r.groups {
		n := r.cursor[i].Add(1) - 1
		out = append(out, g[int(n)%len(g)])
	}
	return out, true
}

// Len returns the number of entries.
func (rt *RouteTable) Len() int {
	if rt == nil {
		return 0
	}
	return len(rt.routes)
}

// LoadRouteTable reads a seed route table file.
func LoadRouteTable(path string) (*RouteTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open route table: %w", err)
	}
	defer f.Close()
	return ParseRouteTable(f)
}

// ParseRouteTable reads the RMR seed format:
//
//	newrt|start
//	rte|<mtype>[,<sender>]|<group>[;<group>...]
//	mse|<mtype>[,<sender>]|<subid>|<group>[;<group>...]
//	newrt|end
//
// A group is a comma separated list of host:port endpoints. Sender
// qualifiers are accepted and ignored.
func ParseRouteTable(r io.Reader) (*RouteTable, error) {
	rt := NewRouteTable()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch fields[0] {
		case "newrt", "updatert":
			continue
		case "rte":
			if len(fields) < 3 {
				return nil, fmt.Errorf("route table line %d: rte needs 3 fields", lineNo)
			}
			mtype, err := parseMType(fields[1])
			if err != nil {
				return nil, fmt.Errorf("route table line %d: %w", lineNo, err)
			}
			rt.Add(mtype, UnsetSubID, parseGroups(fields[2])...)
		case "mse":
			if len(fields) < 4 {
				return nil, fmt.Errorf("route table line %d: mse needs 4 fields", lineNo)
			}
			mtype, err := parseMType(fields[1])
			if err != nil {
				return nil, fmt.Errorf("route table line %d: %w", lineNo, err)
			}
			subID, err := strconv.ParseInt(fields[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("route table line %d: bad subscription id %q", lineNo, fields[2])
			}
			rt.Add(mtype, int32(subID), parseGroups(fields[3])...)
		default:
			return nil, fmt.Errorf("route table line %d: unknown record %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rt, nil
}

func parseMType(field string) (int32, error) {
	if idx := strings.IndexByte(field, ','); idx >= 0 {
		field = field[:idx]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad message type %q", field)
	}
	return int32(n), nil
}

func parseGroups(field string) [][]string {
	var groups [][]string
	for _, g := range strings.Split(field, ";") {
		var members []string
		for _, ep := range strings.Split(g, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				members = append(members, ep)
			}
		}
		if len(members) > 0 {
			groups = append(groups, members)
		}
	}
	return groups
}

// Routes holds the route table currently installed on a driver.
type Routes struct {
	table atomic.Pointer[RouteTable]
}

// Install swaps in rt.
func (r *Routes) Install(rt *RouteTable) {
	r.table.Store(rt)
}

// Table returns the installed table or nil.
func (r *Routes) Table() *RouteTable {
	return r.table.Load()
}

// Loaded reports whether a table has been installed.
func (r *Routes) Loaded() bool {
	return r.table.Load() != nil
}

// RoutesFromConfig loads the seed route table named by cfg. It returns nil
// without error when no file is configured.
func RoutesFromConfig(cfg Config) (*RouteTable, error) {
	if cfg == nil || cfg.GetRouteTableFile() == "" {
		return nil, nil
	}
	return LoadRouteTable(cfg.GetRouteTableFile())
}
