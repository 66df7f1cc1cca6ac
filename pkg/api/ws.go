package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// closeUnknownJob is sent when the requested job id does not exist. The
// connection is upgraded first so the client receives a WebSocket close
// frame instead of an HTTP error it may not surface.
const closeUnknownJob = 4040

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The service is an internal orchestrator; origin policy is left to
	// the deployment's reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLogSocket streams a job's log lines: buffered history first,
// then live lines until the job finishes or the client disconnects.
func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}
	defer conn.Close()

	job, err := s.manager.Get(jobID)
	if err != nil {
		deadline := time.Now().Add(writeTimeout)
		message := websocket.FormatCloseMessage(closeUnknownJob, "job not found")
		_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
		return
	}

	// Subscribe before reading state so no line can fall between the
	// replayed history and the live stream.
	sub := job.Hub.Subscribe()
	defer sub.Close()

	// Readers only send control frames; the pump below exits when the
	// read loop observes a close or error.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return false
		}
		return true
	}

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case line, ok := <-sub.C:
			if !ok {
				return
			}
			if !write(line) {
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-disconnected:
			return
		case <-job.Done():
			// Drain anything already queued, then close cleanly.
			for {
				select {
				case line := <-sub.C:
					if !write(line) {
						return
					}
				default:
					deadline := time.Now().Add(writeTimeout)
					message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
					if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
						s.logger.Debug("close log socket", slog.String("job_id", jobID), slog.String("error", err.Error()))
					}
					return
				}
			}
		}
	}
}
