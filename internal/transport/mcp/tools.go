package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	domaintask "github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	"github.com/alanyang/task-mesh/internal/service/generator"
)

// RegisterTools registers all operator tools on the server.
// [SRP] Tool registration only.
// [OCP] Add a new tool by adding a new AddTool call; server.go never changes.
func RegisterTools(s *mcpserver.MCPServer, reg *WatchRegistry, coord portcoord.Coordinator) {
	s.AddTool(mcpmcp.NewTool("submit_task",
		mcpmcp.WithDescription("Queue a task for execution. Returns the pending task record. Resubmitting the id of a finished task starts a new run; an active id is rejected."),
		mcpmcp.WithString("type", mcpmcp.Required(), mcpmcp.Description("Executor type tag, e.g. echo, sleep, exec")),
		mcpmcp.WithString("id", mcpmcp.Description("Task id. Generated when omitted.")),
		mcpmcp.WithString("properties", mcpmcp.Description(`Task properties as a JSON object of strings, e.g. {"duration":"2s"}. Key order is kept.`)),
		mcpmcp.WithString("timeout", mcpmcp.Description("Per-task timeout override as a Go duration, e.g. 30s")),
	), submitTaskHandler(coord))

	s.AddTool(mcpmcp.NewTool("get_task",
		mcpmcp.WithDescription("Return the current record of one task: status, owner, attempt and retry counts."),
		mcpmcp.WithString("task_id", mcpmcp.Required(), mcpmcp.Description("Task id")),
	), getTaskHandler(coord))

	s.AddTool(mcpmcp.NewTool("list_tasks",
		mcpmcp.WithDescription("List tasks known to the master, optionally filtered."),
		mcpmcp.WithString("status", mcpmcp.Description("One of: pending, dispatched, running, succeeded, failed")),
		mcpmcp.WithString("type", mcpmcp.Description("Executor type tag")),
	), listTasksHandler(coord))

	s.AddTool(mcpmcp.NewTool("cancel_task",
		mcpmcp.WithDescription("Remove a pending task from the queue. Dispatched or running tasks cannot be cancelled."),
		mcpmcp.WithString("task_id", mcpmcp.Required(), mcpmcp.Description("Task id")),
	), cancelTaskHandler(coord))

	s.AddTool(mcpmcp.NewTool("list_controllers",
		mcpmcp.WithDescription("List registered controllers with capacity, load and health."),
	), listControllersHandler(coord))

	s.AddTool(mcpmcp.NewTool("cluster_stats",
		mcpmcp.WithDescription("Task counts by status, controller counts by health, and total load and capacity."),
	), clusterStatsHandler(coord))

	s.AddTool(mcpmcp.NewTool("watch_task",
		mcpmcp.WithDescription("Ask for a "+MethodTaskFinished+" notification on this session when the task succeeds or fails. Returns the task immediately if it already finished."),
		mcpmcp.WithString("task_id", mcpmcp.Required(), mcpmcp.Description("Task id")),
	), watchTaskHandler(reg, coord))
}

// ── Tool handlers ─────────────────────────────────────────────────────────

func submitTaskHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		spec := generator.Spec{
			ID:      mcpmcp.ParseString(req, "id", ""),
			Type:    mcpmcp.ParseString(req, "type", ""),
			Timeout: mcpmcp.ParseString(req, "timeout", ""),
		}
		if spec.Type == "" {
			return mcpmcp.NewToolResultText("error: type is required"), nil
		}
		if raw := mcpmcp.ParseString(req, "properties", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &spec.Properties); err != nil {
				return mcpmcp.NewToolResultText(fmt.Sprintf("error: properties: %s", err)), nil
			}
		}

		t, err := spec.Task()
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		created, err := coord.Submit(ctx, t)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(created)
	}
}

func getTaskHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		t, err := coord.Task(ctx, mcpmcp.ParseString(req, "task_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(t)
	}
}

func listTasksHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		var filters domaintask.ListFilters
		if v := mcpmcp.ParseString(req, "status", ""); v != "" {
			s := domaintask.Status(v)
			if !s.Valid() {
				return mcpmcp.NewToolResultText("error: invalid status"), nil
			}
			filters.Status = &s
		}
		filters.Type = mcpmcp.ParseString(req, "type", "")

		tasks, err := coord.Tasks(ctx, filters)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		if tasks == nil {
			tasks = []domaintask.Task{}
		}
		return jsonResult(tasks)
	}
}

func cancelTaskHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		t, err := coord.Cancel(ctx, mcpmcp.ParseString(req, "task_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(t)
	}
}

func listControllersHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		cs, err := coord.Controllers(ctx)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(cs)
	}
}

func clusterStatsHandler(coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		st, err := coord.Stats(ctx)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(st)
	}
}

func watchTaskHandler(reg *WatchRegistry, coord portcoord.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		taskID := mcpmcp.ParseString(req, "task_id", "")
		session := mcpserver.ClientSessionFromContext(ctx)
		if session == nil {
			return mcpmcp.NewToolResultText("error: watch_task needs a session"), nil
		}

		// Watch before reading so a completion in between is not missed.
		reg.Watch(session.SessionID(), taskID)
		t, err := coord.Task(ctx, taskID)
		if err != nil {
			reg.Unwatch(session.SessionID(), taskID)
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		watching := !t.Status.IsTerminal()
		if !watching {
			reg.Unwatch(session.SessionID(), taskID)
		}
		return jsonResult(map[string]any{"watching": watching, "task": t})
	}
}

func jsonResult(v any) (*mcpmcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcpmcp.NewToolResultText(string(b)), nil
}
