// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package modules

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/module"
)

var shutdownLogLocations = locations{
	patterns: []string{"private/var/db/diagnostics/shutdown.log"},
}

// ShutdownLog extracts the processes that were still running when the
// device was shut down. Persistent malware shows up in every shutdown.
type ShutdownLog struct{}

// NewShutdownLog creates the ShutdownLog module.
func NewShutdownLog() *ShutdownLog { return &ShutdownLog{} }

type shutdownClient struct {
	Isodate string
	Pid     int64
	Client  string
	// Delay is the number of seconds the shutdown waited for clients.
	Delay float64
}

// Name returns "ShutdownLog".
func (*ShutdownLog) Name() string { return "ShutdownLog" }

// Discover finds the shutdown.log of filesystem dumps.
func (s *ShutdownLog) Discover(_ context.Context, sc *module.ScanContext) ([]module.Artifact, error) {
	return discover(sc, s.Name(), shutdownLogLocations)
}

// Parse attributes every "remaining client pid" line to the following
// SIGTERM line, which holds the time of the shutdown.
func (s *ShutdownLog) Parse(ctx context.Context, sc *module.ScanContext, artifact module.Artifact) ([]module.Record, error) {
	f, err := sc.Store.Open(artifact.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []module.Record
	var clients []shutdownClient
	var delay float64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "remaining client pid:"):
			if client, ok := parseRemainingClient(line); ok {
				clients = append(clients, client)
			}
		case strings.HasPrefix(line, "After "):
			// After 3.21s, these clients are still here:
			if fields := strings.Fields(line); len(fields) > 1 {
				if d, err := strconv.ParseFloat(strings.TrimRight(fields[1], "s,"), 64); err == nil {
					delay = d
				}
			}
		case strings.HasPrefix(line, "SIGTERM: "):
			isodate := module.ISOTime(parseSigterm(line))
			for _, client := range clients {
				client.Isodate = isodate
				client.Delay = delay
				records = append(records, record(client))
			}
			clients, delay = nil, 0
		}
	}
	return records, scanner.Err()
}

// parseRemainingClient parses "remaining client pid: 123 (/usr/libexec/x)".
func parseRemainingClient(line string) (shutdownClient, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "remaining client pid:"))
	open, end := strings.Index(rest, "("), strings.LastIndex(rest, ")")
	if open < 0 || end < open {
		return shutdownClient{}, false
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(rest[:open]), 10, 64)
	if err != nil {
		return shutdownClient{}, false
	}
	return shutdownClient{Pid: pid, Client: rest[open+1 : end]}, true
}

// parseSigterm returns the unix time of "SIGTERM: [1616071853] ...".
func parseSigterm(line string) time.Time {
	open, end := strings.Index(line, "["), strings.Index(line, "]")
	if open < 0 || end < open {
		return time.Time{}
	}
	ts, err := strconv.ParseInt(line[open+1:end], 10, 64)
	if err != nil || ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Serialize returns one event per client.
func (s *ShutdownLog) Serialize(r module.Record) []module.TimelineEvent {
	pid, _ := integer(r["pid"])
	return []module.TimelineEvent{{
		Timestamp: timeValue(r, "isodate"),
		Module:    s.Name(),
		Event:     "shutdown",
		Data:      fmt.Sprintf("Client %s with PID %d was running when the device was shut down", stringValue(r, "client"), pid),
	}}
}

// CheckIndicators matches the process name and the executable path.
func (*ShutdownLog) CheckIndicators(set *indicators.Set, r module.Record) *indicators.Collection {
	client := stringValue(r, "client")
	if c := set.CheckProcessNames([]string{client}); c != nil {
		return c
	}
	return set.CheckFileNames([]string{client})
}
