package workflow

import "fmt"

// ToolError wraps a transport-level failure from a tool collaborator. It is
// fatal at the discovery and mapping stages; at the execution stage it is
// captured into RunState.ExecutionError and handled by the retry branch.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ModelOutputError reports a structured-output contract violation: the model
// response could not be decoded into the expected shape.
type ModelOutputError struct {
	Contract string
	Reason   string
}

func (e *ModelOutputError) Error() string {
	return fmt.Sprintf("model output did not match %s contract: %s", e.Contract, e.Reason)
}
