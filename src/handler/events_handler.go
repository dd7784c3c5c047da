package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ordersync/src/bus"

	logger "github.com/sirupsen/logrus"
)

// EventsHandler bridges the in-process bus to a server-sent-events stream so
// a frontend can react to sync progress and order mutations over HTTP. Each
// connection gets its own subscription; slow clients drop frames rather than
// back-pressuring the bus.
func EventsHandler(events *bus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		type frame struct {
			kind    bus.Kind
			payload any
		}
		frames := make(chan frame, 64)

		subs := events.SubscribeAll(func(kind bus.Kind, payload any) {
			select {
			case frames <- frame{kind: kind, payload: payload}:
			default:
				// Client is not keeping up. Dropping is fine, the query API
				// always has the authoritative state.
			}
		})
		defer func() {
			for _, s := range subs {
				events.Unsubscribe(s)
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case f := <-frames:
				data, err := json.Marshal(f.payload)
				if err != nil {
					logger.WithError(err).WithField("event", f.kind.String()).
						Debug("skipping unencodable event payload")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.kind.String(), data)
				flusher.Flush()
			}
		}
	}
}
