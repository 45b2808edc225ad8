package driver

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// maxLogEntries bounds each ring buffer so a long-lived instance's log
// capture can't grow without bound.
const maxLogEntries = 500

// ConsoleEntry is one console.* call observed on any tab this driver owns.
type ConsoleEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
}

// NetworkEntry is one completed response observed on any tab this driver owns.
type NetworkEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
}

// watchLogs subscribes to console and network events across every tab,
// mirroring watchNewTargets' EachEvent idiom.
func (d *Driver) watchLogs() {
	go d.browser.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		text := ""
		for _, arg := range e.Args {
			if arg.Value.Nil() {
				continue
			}
			if text != "" {
				text += " "
			}
			text += arg.Value.Str()
		}
		d.appendConsole(ConsoleEntry{Timestamp: time.Now(), Level: string(e.Type), Text: text})
	})()

	go d.browser.EachEvent(func(e *proto.NetworkResponseReceived) {
		d.appendNetwork(NetworkEntry{
			Timestamp: time.Now(),
			URL:       e.Response.URL,
			Status:    e.Response.Status,
		})
	})()
}

func (d *Driver) appendConsole(e ConsoleEntry) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.consoleLog = append(d.consoleLog, e)
	if len(d.consoleLog) > maxLogEntries {
		d.consoleLog = d.consoleLog[len(d.consoleLog)-maxLogEntries:]
	}
}

func (d *Driver) appendNetwork(e NetworkEntry) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.networkLog = append(d.networkLog, e)
	if len(d.networkLog) > maxLogEntries {
		d.networkLog = d.networkLog[len(d.networkLog)-maxLogEntries:]
	}
}

// ConsoleLogs returns a snapshot of console entries captured so far.
func (d *Driver) ConsoleLogs(_ context.Context) []ConsoleEntry {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	out := make([]ConsoleEntry, len(d.consoleLog))
	copy(out, d.consoleLog)
	return out
}

// NetworkLogs returns a snapshot of network response entries captured so far.
func (d *Driver) NetworkLogs(_ context.Context) []NetworkEntry {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	out := make([]NetworkEntry, len(d.networkLog))
	copy(out, d.networkLog)
	return out
}
