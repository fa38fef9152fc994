package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"venuetour/internal/model"
)

// Run progress over WebSocket. Protocol (graphql-transport-ws style):
//   client: connection_init, subscribe {id, payload:{runId}}, complete {id}, ping
//   server: connection_ack, next {id, payload:event}, error, complete, pong

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribe struct {
	RunID string `json:"runId"`
}

// RunsWSHandler handles /v1/runs/ws
func (s *Server) RunsWSHandler(w http.ResponseWriter, r *http.Request) {
	pr := s.getPrincipal(r)
	if !pr.CanRead() {
		writeProblem(w, 403, "Forbidden", "", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	writeErr := func(id, msg string) {
		b, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: b})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	type sub struct {
		runID string
		ch    chan SSEEvent
	}
	var smu sync.Mutex
	subs := map[string]sub{}
	drop := func(id string) {
		smu.Lock()
		s0, ok := subs[id]
		delete(subs, id)
		smu.Unlock()
		if ok {
			s.Broker.Unsubscribe(s0.runID, s0.ch)
		}
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		smu.Lock()
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		smu.Unlock()
		for _, id := range ids {
			drop(id)
		}
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	acked := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			if acked {
				continue
			}
			acked = true
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribe
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.RunID == "" {
				writeErr(msg.ID, "runId required")
				continue
			}
			ch := s.Broker.Subscribe(pl.RunID)
			run, err := s.Store.GetRun(r.Context(), pr.Tenant, pl.RunID)
			if err != nil {
				s.Broker.Unsubscribe(pl.RunID, ch)
				writeErr(msg.ID, "run not found")
				continue
			}
			if run.Status != model.RunRunning {
				// already finished: one terminal event and done
				s.Broker.Unsubscribe(pl.RunID, ch)
				typ := EventRunCompleted
				if run.Status == model.RunFailed {
					typ = EventRunFailed
				}
				b, _ := json.Marshal(SSEEvent{Type: typ, Data: runSummary(run)})
				_ = write(wsMessage{Type: "next", ID: msg.ID, Payload: b})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			drop(msg.ID)
			smu.Lock()
			subs[msg.ID] = sub{runID: pl.RunID, ch: ch}
			smu.Unlock()
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					b, _ := json.Marshal(evt)
					if err := write(wsMessage{Type: "next", ID: id, Payload: b}); err != nil {
						return
					}
					if evt.Type == EventRunCompleted || evt.Type == EventRunFailed {
						_ = write(wsMessage{Type: "complete", ID: id})
						drop(id)
						return
					}
				}
			}(msg.ID, ch)
		case "complete":
			drop(msg.ID)
		}
	}
}
