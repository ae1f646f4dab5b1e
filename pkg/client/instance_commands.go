package client

import (
	"context"
	"maps"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
)

type CreateInstanceCommand struct {
	client  *Client
	command bpmn.CreateInstanceCommand
	// versionSet tracks whether LatestVersion or Version was chosen
	versionSet bool
}

func (c *Client) NewCreateInstanceCommand() *CreateInstanceCommand {
	return &CreateInstanceCommand{client: c}
}

func (cmd *CreateInstanceCommand) BpmnProcessId(bpmnProcessId string) *CreateInstanceCommand {
	cmd.command.BpmnProcessId = bpmnProcessId
	return cmd
}

func (cmd *CreateInstanceCommand) LatestVersion() *CreateInstanceCommand {
	cmd.command.Version = bpmn.LatestVersion
	cmd.versionSet = true
	return cmd
}

func (cmd *CreateInstanceCommand) Version(version int32) *CreateInstanceCommand {
	cmd.command.Version = version
	cmd.versionSet = true
	return cmd
}

func (cmd *CreateInstanceCommand) ProcessDefinitionKey(key int64) *CreateInstanceCommand {
	cmd.command.ProcessDefinitionKey = key
	return cmd
}

// Variables are merged into the variables set before, later keys overwrite earlier ones
func (cmd *CreateInstanceCommand) Variables(variables map[string]any) *CreateInstanceCommand {
	if cmd.command.Variables == nil {
		cmd.command.Variables = map[string]any{}
	}
	maps.Copy(cmd.command.Variables, variables)
	return cmd
}

// WithResult makes Send wait until the instance completed
func (cmd *CreateInstanceCommand) WithResult() *CreateInstanceCommand {
	cmd.command.AwaitResult = true
	return cmd
}

func (cmd *CreateInstanceCommand) validate() error {
	if cmd.command.ProcessDefinitionKey != 0 {
		if cmd.command.BpmnProcessId != "" || cmd.versionSet {
			return newValidationError("either a process definition key or a BPMN process id with version is allowed, not both")
		}
		return nil
	}
	if cmd.command.BpmnProcessId == "" {
		return newValidationError("BPMN process id or process definition key is required")
	}
	if !cmd.versionSet {
		return newValidationError("version of process %s is required, use LatestVersion or Version", cmd.command.BpmnProcessId)
	}
	if cmd.command.Version != bpmn.LatestVersion && cmd.command.Version < 1 {
		return newValidationError("version must be positive, got %d", cmd.command.Version)
	}
	return nil
}

func (cmd *CreateInstanceCommand) Send(ctx context.Context) (bpmn.InstanceResult, error) {
	if err := cmd.validate(); err != nil {
		return bpmn.InstanceResult{}, err
	}
	return cmd.client.engine.CreateInstance(ctx, cmd.command)
}

// SendAsync creates the instance in the background. Giving up on the future never cancels the instance.
func (cmd *CreateInstanceCommand) SendAsync(ctx context.Context) *Future[bpmn.InstanceResult] {
	if err := cmd.validate(); err != nil {
		future := newFuture[bpmn.InstanceResult]()
		future.fulfill(bpmn.InstanceResult{}, err)
		return future
	}
	command := cmd.command
	command.Variables = maps.Clone(cmd.command.Variables)
	engine := cmd.client.engine
	future := newFuture[bpmn.InstanceResult]()
	go func() {
		future.fulfill(engine.CreateInstance(context.WithoutCancel(ctx), command))
	}()
	return future
}

type CancelInstanceCommand struct {
	client             *Client
	processInstanceKey int64
}

func (c *Client) NewCancelInstanceCommand() *CancelInstanceCommand {
	return &CancelInstanceCommand{client: c}
}

func (cmd *CancelInstanceCommand) ProcessInstanceKey(key int64) *CancelInstanceCommand {
	cmd.processInstanceKey = key
	return cmd
}

func (cmd *CancelInstanceCommand) Send(ctx context.Context) error {
	if cmd.processInstanceKey == 0 {
		return newValidationError("process instance key is required")
	}
	return cmd.client.engine.CancelInstance(ctx, cmd.processInstanceKey)
}

func (cmd *CancelInstanceCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}

type SetVariablesCommand struct {
	client             *Client
	processInstanceKey int64
	variables          map[string]any
}

func (c *Client) NewSetVariablesCommand() *SetVariablesCommand {
	return &SetVariablesCommand{client: c, variables: map[string]any{}}
}

func (cmd *SetVariablesCommand) ProcessInstanceKey(key int64) *SetVariablesCommand {
	cmd.processInstanceKey = key
	return cmd
}

func (cmd *SetVariablesCommand) Variables(variables map[string]any) *SetVariablesCommand {
	maps.Copy(cmd.variables, variables)
	return cmd
}

func (cmd *SetVariablesCommand) Send(ctx context.Context) error {
	if cmd.processInstanceKey == 0 {
		return newValidationError("process instance key is required")
	}
	if len(cmd.variables) == 0 {
		return newValidationError("no variables to set")
	}
	return cmd.client.engine.SetVariables(ctx, cmd.processInstanceKey, cmd.variables)
}

func (cmd *SetVariablesCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}

type ResolveIncidentCommand struct {
	client      *Client
	incidentKey int64
}

func (c *Client) NewResolveIncidentCommand() *ResolveIncidentCommand {
	return &ResolveIncidentCommand{client: c}
}

func (cmd *ResolveIncidentCommand) IncidentKey(key int64) *ResolveIncidentCommand {
	cmd.incidentKey = key
	return cmd
}

func (cmd *ResolveIncidentCommand) Send(ctx context.Context) error {
	if cmd.incidentKey == 0 {
		return newValidationError("incident key is required")
	}
	return cmd.client.engine.ResolveIncident(ctx, cmd.incidentKey)
}

func (cmd *ResolveIncidentCommand) SendAsync(ctx context.Context) *Future[struct{}] {
	return send(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, cmd.Send(ctx)
	})
}
