package handler

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ordersync/src/bus"

	"github.com/stretchr/testify/assert"
)

func TestEventsHandler_StreamsBusEvents(t *testing.T) {
	events := bus.New()
	srv := httptest.NewServer(EventsHandler(events))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription registers some time after the request lands; keep
	// publishing until the stream picks one up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				events.Publish(bus.EvSyncProgress, bus.SyncProgress{Fetched: 10, Total: 20})
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}

	assert.Equal(t, "event: sync_progress", eventLine)
	assert.Contains(t, dataLine, `"fetched":10`)
}
