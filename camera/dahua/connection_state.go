package dahua

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/mblakley/soccer-cam-go/capability"
)

// connectionEvent is one reachability transition, persisted so outage
// windows survive a process restart.
type connectionEvent struct {
	At        time.Time `json:"at"`
	Connected bool      `json:"connected"`
	Detail    string    `json:"detail"`
}

type connectionState struct {
	mu        sync.Mutex
	path      string
	events    []connectionEvent
	connected bool
}

func loadConnectionState(path string) *connectionState {
	s := &connectionState{path: path, connected: true}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var wire struct {
		Events    []connectionEvent `json:"events"`
		Connected bool              `json:"connected"`
	}
	if json.Unmarshal(data, &wire) == nil {
		s.events = wire.Events
		s.connected = wire.Connected
	}
	return s
}

func (s *connectionState) recordTransition(connected bool, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connected == s.connected {
		return
	}
	s.connected = connected
	event := "connected"
	if !connected {
		event = detail
	}
	s.events = append(s.events, connectionEvent{At: time.Now(), Connected: connected, Detail: event})
	s.save()
}

func (s *connectionState) save() {
	if s.path == "" {
		return
	}
	wire := struct {
		Events    []connectionEvent `json:"events"`
		Connected bool              `json:"connected"`
	}{Events: s.events, Connected: s.connected}
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0644)
}

// windows turns the event log into [start, end) reachability-loss spans:
// each "disconnected" event opens a window, closed by the next
// "connected" event, or left open (zero EndOrNow) if none followed.
func (s *connectionState) windows() []capability.ConnectedWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []capability.ConnectedWindow
	var openStart *time.Time
	for _, e := range s.events {
		at := e.At
		if !e.Connected {
			if openStart == nil {
				openStart = &at
			}
			continue
		}
		if openStart != nil {
			out = append(out, capability.ConnectedWindow{Start: *openStart, EndOrNow: at})
			openStart = nil
		}
	}
	if openStart != nil {
		out = append(out, capability.ConnectedWindow{Start: *openStart})
	}
	return out
}
