package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fintelcore/fintel/internal/taskengine"
)

// handleTaskStream upgrades to a WebSocket and streams progress events for
// one task until it reaches a terminal state. The first frame is always the
// current task row, so late subscribers see the full picture.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	task, err := s.engine.GetTaskStatus(taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ctx := r.Context()

	// Subscribe before the snapshot so no event between the two is lost.
	events, cancel := s.engine.Hub().Subscribe(taskID)
	defer cancel()

	if err := wsjson.Write(ctx, conn, eventFromTask(task)); err != nil {
		return
	}
	if isTerminal(task.Status) {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	// Hub events can be dropped under load; the poll catches a terminal
	// transition the stream missed.
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if isTerminal(ev.Status) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}

		case <-poll.C:
			task, err := s.engine.GetTaskStatus(taskID)
			if err != nil {
				return
			}
			if isTerminal(task.Status) {
				if err := wsjson.Write(ctx, conn, eventFromTask(task)); err != nil {
					return
				}
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func eventFromTask(task *taskengine.Task) taskengine.ProgressEvent {
	return taskengine.ProgressEvent{
		TaskID:    task.ID,
		Status:    task.Status,
		Percent:   task.ProgressPercent,
		Step:      task.CurrentStep,
		Error:     task.ErrorMessage,
		Timestamp: time.Now(),
	}
}

func isTerminal(status taskengine.Status) bool {
	return status == taskengine.StatusCompleted || status == taskengine.StatusFailed
}
