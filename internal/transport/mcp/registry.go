package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/alanyang/task-mesh/internal/domain/event"
)

// MethodTaskFinished is the notification a watching session receives.
const MethodTaskFinished = "notifications/task_finished"

// WatchRegistry is the in-memory set of MCP sessions waiting on task completion.
//
// [SRP] Watch bookkeeping and notification dispatch only.
type WatchRegistry struct {
	mu        sync.RWMutex
	byTask    map[string]map[string]struct{} // taskID → sessionIDs
	bySession map[string]map[string]struct{} // sessionID → taskIDs

	// mcpSrv is set after the MCP server is constructed (avoids circular init dependency).
	mcpMu  sync.RWMutex
	mcpSrv *mcpserver.MCPServer
}

func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		byTask:    make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

// SetMCPServer injects the mcp-go server after construction (breaks the init cycle).
func (r *WatchRegistry) SetMCPServer(s *mcpserver.MCPServer) {
	r.mcpMu.Lock()
	r.mcpSrv = s
	r.mcpMu.Unlock()
}

// Watch asks for one notification when taskID reaches a terminal state.
func (r *WatchRegistry) Watch(sessionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byTask[taskID] == nil {
		r.byTask[taskID] = make(map[string]struct{})
	}
	r.byTask[taskID][sessionID] = struct{}{}
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[string]struct{})
	}
	r.bySession[sessionID][taskID] = struct{}{}
}

// Unwatch cancels one watch.
func (r *WatchRegistry) Unwatch(sessionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byTask[taskID], sessionID)
	if len(r.byTask[taskID]) == 0 {
		delete(r.byTask, taskID)
	}
	delete(r.bySession[sessionID], taskID)
	if len(r.bySession[sessionID]) == 0 {
		delete(r.bySession, sessionID)
	}
}

// Unregister drops every watch of a closed session. Returns how many were dropped.
func (r *WatchRegistry) Unregister(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := r.bySession[sessionID]
	for taskID := range tasks {
		delete(r.byTask[taskID], sessionID)
		if len(r.byTask[taskID]) == 0 {
			delete(r.byTask, taskID)
		}
	}
	delete(r.bySession, sessionID)
	return len(tasks)
}

// Watching reports whether sessionID waits on taskID.
func (r *WatchRegistry) Watching(sessionID, taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTask[taskID][sessionID]
	return ok
}

// Notify is an eventbus handler. Terminal task events are pushed to every
// watching session, and those watches end.
func (r *WatchRegistry) Notify(ctx context.Context, e event.Event) {
	if !e.Type.IsTerminal() {
		return
	}

	r.mu.Lock()
	sessions := r.byTask[e.TaskID]
	delete(r.byTask, e.TaskID)
	targets := make([]string, 0, len(sessions))
	for sessionID := range sessions {
		delete(r.bySession[sessionID], e.TaskID)
		if len(r.bySession[sessionID]) == 0 {
			delete(r.bySession, sessionID)
		}
		targets = append(targets, sessionID)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	if err := r.send(targets, e); err != nil {
		slog.WarnContext(ctx, "mcp: watch notification failed", "task_id", e.TaskID, "error", err)
	}
}

func (r *WatchRegistry) send(sessionIDs []string, e event.Event) error {
	r.mcpMu.RLock()
	srv := r.mcpSrv
	r.mcpMu.RUnlock()

	if srv == nil {
		return fmt.Errorf("mcp server not initialized")
	}

	params, err := toParams(e)
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}

	var lastErr error
	for _, sessionID := range sessionIDs {
		if err := srv.SendNotificationToSpecificClient(sessionID, MethodTaskFinished, params); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func toParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return map[string]any{"data": v}, nil
	}
	return params, nil
}
