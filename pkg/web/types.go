// Package web provides HTTP request and response types for the execution API.
package web

import "github.com/dukex/flowrun/pkg/models"

// DefaultAnalyticsDays is the window used when the days query parameter is absent.
const DefaultAnalyticsDays = 30

// TriggerExecutionRequest represents the request body for running a workflow.
type TriggerExecutionRequest struct {
	WorkflowID  string `json:"workflow_id"            validate:"required"`
	TriggeredBy string `json:"triggered_by,omitempty" validate:"omitempty,max=255"`
}

// NodeExecutionsResponse lists the node rows of one execution.
type NodeExecutionsResponse struct {
	ExecutionID    string                  `json:"execution_id"`
	NodeExecutions []*models.NodeExecution `json:"node_executions"`
}
