// Package audit records what the agent did on behalf of users. Entries are
// written to the store asynchronously and fall back to the process log when
// the store is unavailable.
package audit

// Actions recorded by the agent core.
const (
	ActionStepExecution   = "agent_step_execution"
	ActionGuardrailDenied = "agent_guardrail_denied"
	ActionAgentExecution  = "agent_execution"
	ActionSessionCreate   = "agent_session_created"
	ActionPlanGenerated   = "agent_plan_generated"
	ActionPlanApproved    = "agent_plan_approved"
	ActionSessionCancel   = "agent_session_cancelled"
	ActionSessionExpired  = "agent_session_expired"
	ActionScheduledRun    = "scheduled_task_run"
	ActionScheduledChange = "scheduled_task_change"
	ActionWorkflowRun     = "workflow_execution"
)

// Target types.
const (
	TargetPlanStep      = "plan_step"
	TargetSession       = "agent_session"
	TargetPlan          = "agent_plan"
	TargetScheduledTask = "scheduled_task"
	TargetWorkflow      = "workflow"
)

// Actor types.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)
