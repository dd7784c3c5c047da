package listener

import (
	"context"
	"encoding/json"
	"time"

	"ordersync/src/connectors"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	logger "github.com/sirupsen/logrus"
)

type subscriptionNotice struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type rawLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
	Removed bool     `json:"removed"`
}

type rawHead struct {
	Number string `json:"number"`
}

// handleMessage routes one frame from the socket. Malformed frames are
// logged and dropped; they must never take the listener down.
func (l *Listener) handleMessage(ctx context.Context, msg []byte) {
	var frame wsResponse
	if err := json.Unmarshal(msg, &frame); err != nil {
		logger.WithError(err).Debug("dropping unparseable ws frame")
		return
	}
	if frame.Method != "eth_subscription" {
		return
	}

	var notice struct {
		Params subscriptionNotice `json:"params"`
	}
	if err := json.Unmarshal(msg, &notice); err != nil {
		logger.WithError(err).Debug("dropping malformed subscription notice")
		return
	}

	l.mu.Lock()
	subLogs, subHeads := l.subLogs, l.subHeads
	l.mu.Unlock()

	switch notice.Params.Subscription {
	case subHeads:
		l.handleHead(notice.Params.Result)
	case subLogs:
		l.handleLog(ctx, notice.Params.Result)
	}
}

// handleHead is the liveness heartbeat. Heads arrive every block, so the
// log line is throttled.
func (l *Listener) handleHead(raw json.RawMessage) {
	var head rawHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}

	l.mu.Lock()
	quiet := time.Since(l.lastHeadLog) >= l.cfg.HeartbeatLogEvery
	if quiet {
		l.lastHeadLog = time.Now()
	}
	l.mu.Unlock()

	if quiet {
		if n, err := hexutil.DecodeUint64(head.Number); err == nil {
			logger.WithField("block", n).Debug("heartbeat")
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, raw json.RawMessage) {
	var lg rawLog
	if err := json.Unmarshal(raw, &lg); err != nil {
		logger.WithError(err).Warn("dropping malformed log payload")
		return
	}
	if lg.Removed {
		// Reorged-out log. The periodic sync and later events reconverge the
		// cache; applying removals here would need per-event inverses.
		logger.WithField("topics", lg.Topics).Debug("ignoring removed log")
		return
	}

	topics := make([]common.Hash, len(lg.Topics))
	for i, t := range lg.Topics {
		topics[i] = common.HexToHash(t)
	}
	data, err := hexutil.Decode(lg.Data)
	if err != nil {
		logger.WithError(err).Warn("dropping log with bad data encoding")
		return
	}

	ev, err := connectors.DecodeOrderLog(topics, data)
	if err != nil {
		logger.WithError(err).Warn("dropping undecodable contract event")
		return
	}

	// Creation and retry need the full record; the log only carries IDs.
	switch ev.Kind {
	case model.OrderCreated:
		order, ok, ferr := l.fetch.FetchOne(ctx, ev.ID)
		if ferr != nil {
			logger.WithError(ferr).WithField("id", ev.ID).Warn("failed to read created order")
			return
		}
		if !ok {
			return
		}
		ev.Order = &order
	case model.OrderRetried:
		order, ok, ferr := l.fetch.FetchOne(ctx, ev.NewID)
		if ferr != nil {
			logger.WithError(ferr).WithField("id", ev.NewID).Warn("failed to read retried order")
			return
		}
		if !ok {
			return
		}
		ev.Order = &order
	}

	l.book.ApplyEvent(ev)
}

// lifecycleTopics is the OR-filter for the five order events.
func lifecycleTopics() []string {
	return []string{
		connectors.TopicOrderCreated.Hex(),
		connectors.TopicOrderFilled.Hex(),
		connectors.TopicOrderCanceled.Hex(),
		connectors.TopicOrderCleaned.Hex(),
		connectors.TopicOrderRetried.Hex(),
	}
}
