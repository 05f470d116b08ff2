package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
)

// RegisterPrompts registers the operator prompts.
// [SRP] Prompt registration only, separate from server lifecycle and tool definitions.
func RegisterPrompts(s *mcpserver.MCPServer, coord portcoord.Coordinator) {
	s.AddPrompt(
		mcpmcp.NewPrompt("triage_task",
			mcpmcp.WithPromptDescription("Summarise a task's state and history so an operator can decide whether to resubmit it."),
			mcpmcp.WithArgument("task_id",
				mcpmcp.ArgumentDescription("Task id"),
				mcpmcp.RequiredArgument(),
			),
		),
		triageHandler(coord),
	)
}

func triageHandler(coord portcoord.Coordinator) mcpserver.PromptHandlerFunc {
	return func(ctx context.Context, req mcpmcp.GetPromptRequest) (*mcpmcp.GetPromptResult, error) {
		taskID := req.Params.Arguments["task_id"]
		t, err := coord.Task(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("get task %s: %w", taskID, err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Task %s (type %s, run %d) is %s.\n", t.ID, t.Type, t.Run, t.Status)
		fmt.Fprintf(&b, "Dispatch attempts this run: %d. Retries used: %d.\n", t.Attempt-t.AttemptBase, t.Retries)
		if t.ControllerID != "" {
			fmt.Fprintf(&b, "Current owner: controller %s.\n", t.ControllerID)
		}
		if t.LastError != "" {
			fmt.Fprintf(&b, "Last error: %s\n", t.LastError)
		}
		b.WriteString("Properties:\n")
		t.Properties.Each(func(k, v string) { fmt.Fprintf(&b, "  %s = %s\n", k, v) })
		b.WriteString("\nExplain what most likely happened and whether resubmitting with submit_task is worthwhile.")

		return mcpmcp.NewGetPromptResult(
			fmt.Sprintf("Triage task %s", t.ID),
			[]mcpmcp.PromptMessage{
				mcpmcp.NewPromptMessage(
					mcpmcp.RoleUser,
					mcpmcp.TextContent{
						Type: "text",
						Text: b.String(),
					},
				),
			},
		), nil
	}
}
