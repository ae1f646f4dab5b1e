package client

import (
	"context"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
)

type DeployResourceCommand struct {
	client    *Client
	resources []bpmn.DeploymentResource
	errs      []error
}

func (c *Client) NewDeployResourceCommand() *DeployResourceCommand {
	return &DeployResourceCommand{client: c}
}

// AddResource adds BPMN XML, name identifies the resource in the deployment
func (cmd *DeployResourceCommand) AddResource(content []byte, name string) *DeployResourceCommand {
	cmd.resources = append(cmd.resources, bpmn.DeploymentResource{Name: name, Content: content})
	return cmd
}

// AddProcessModel renders a process model built in code, e.g. with the builder package
func (cmd *DeployResourceCommand) AddProcessModel(definitions *bpmn20.TDefinitions, name string) *DeployResourceCommand {
	if definitions == nil {
		cmd.errs = append(cmd.errs, newValidationError("process model %s is nil", name))
		return cmd
	}
	content, err := bpmn20.Marshal(definitions)
	if err != nil {
		cmd.errs = append(cmd.errs, &bpmn.ValidationError{Msg: "process model " + name + " can't be rendered", Err: err})
		return cmd
	}
	return cmd.AddResource(content, name)
}

func (cmd *DeployResourceCommand) validate() error {
	if len(cmd.errs) > 0 {
		return cmd.errs[0]
	}
	if len(cmd.resources) == 0 {
		return newValidationError("at least one resource is required")
	}
	for i, resource := range cmd.resources {
		if resource.Name == "" {
			return newValidationError("resource %d has no name", i)
		}
		if len(resource.Content) == 0 {
			return newValidationError("resource %s is empty", resource.Name)
		}
	}
	return nil
}

func (cmd *DeployResourceCommand) Send(ctx context.Context) (bpmn.Deployment, error) {
	if err := cmd.validate(); err != nil {
		return bpmn.Deployment{}, err
	}
	return cmd.client.engine.Deploy(ctx, cmd.resources...)
}

func (cmd *DeployResourceCommand) SendAsync(ctx context.Context) *Future[bpmn.Deployment] {
	return send(ctx, cmd.Send)
}
