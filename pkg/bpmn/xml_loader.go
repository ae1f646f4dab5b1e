package bpmn

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenbpm-embedded/pkg/record"
	"github.com/pbinitiative/zenbpm-embedded/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeploymentResource is one BPMN XML document of a deployment
type DeploymentResource struct {
	Name    string
	Content []byte
}

type Deployment struct {
	Key       int64
	Processes []record.ProcessMetadata
}

type parsedResource struct {
	resource    DeploymentResource
	definitions *bpmn20.TDefinitions
	checksum    string
}

// LoadFromFile deploys a given BPMN file, the file name becomes the resource name
func (engine *Engine) LoadFromFile(ctx context.Context, filename string) (Deployment, error) {
	xmlData, err := os.ReadFile(filename)
	if err != nil {
		return Deployment{}, fmt.Errorf("failed to load from file: %w", err)
	}
	return engine.Deploy(ctx, DeploymentResource{Name: filepath.Base(filename), Content: xmlData})
}

// Deploy parses and validates the resources and deploys a new version of every changed process.
// A resource identical to the latest version of its process is not deployed again.
// Invalid resources fail the whole deployment with a ValidationError and nothing is written.
func (engine *Engine) Deploy(ctx context.Context, resources ...DeploymentResource) (deployment Deployment, retErr error) {
	if len(resources) == 0 {
		return deployment, newValidationErrorf("a deployment needs at least one resource")
	}
	done, err := engine.enter()
	if err != nil {
		return deployment, err
	}
	defer done()

	ctx, deploySpan := engine.tracer.Start(ctx, "deploy", trace.WithAttributes(
		attribute.Int("resources", len(resources)),
	))
	defer func() {
		if retErr != nil {
			deploySpan.RecordError(retErr)
			deploySpan.SetStatus(codes.Error, retErr.Error())
		}
		deploySpan.End()
	}()

	parsed := make([]parsedResource, 0, len(resources))
	processIds := map[string]string{}
	for i, resource := range resources {
		if resource.Name == "" {
			return deployment, newValidationErrorf("resource %d has no name", i)
		}
		definitions, err := bpmn20.Parse(resource.Content)
		if err != nil {
			return deployment, &ValidationError{Msg: fmt.Sprintf("resource %s is not a valid process", resource.Name), Err: err}
		}
		processId := definitions.Process.Id
		if other, ok := processIds[processId]; ok {
			return deployment, newValidationErrorf("resources %s and %s both define process %s", other, resource.Name, processId)
		}
		processIds[processId] = resource.Name
		md5sum := md5.Sum(resource.Content)
		parsed = append(parsed, parsedResource{
			resource:    resource,
			definitions: definitions,
			checksum:    hex.EncodeToString(md5sum[:]),
		})
	}

	engine.deployMu.Lock()
	defer engine.deployMu.Unlock()

	deployment.Key = engine.generateKey()
	resourceNames := make([]string, 0, len(parsed))
	for _, p := range parsed {
		resourceNames = append(resourceNames, p.resource.Name)
		metadata := record.ProcessMetadata{
			BpmnProcessId: p.definitions.Process.Id,
			Version:       1,
			ResourceName:  p.resource.Name,
			Checksum:      p.checksum,
		}
		latest, err := engine.state.FindLatestProcessDefinitionById(ctx, metadata.BpmnProcessId)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return deployment, fmt.Errorf("failed to load latest version of process %s: %w", metadata.BpmnProcessId, err)
		case latest.BpmnChecksum == p.checksum:
			metadata.Version = latest.Version
			metadata.ProcessDefinitionKey = latest.Key
			metadata.ResourceName = latest.BpmnResourceName
			metadata.IsDuplicate = true
			deployment.Processes = append(deployment.Processes, metadata)
			continue
		default:
			metadata.Version = latest.Version + 1
		}
		metadata.ProcessDefinitionKey = engine.generateKey()
		_, err = engine.writeRecord(ctx, metadata.ProcessDefinitionKey, record.ValueTypeProcess, record.IntentCreated, record.ProcessValue{
			ProcessMetadata: metadata,
			Resource:        p.resource.Content,
		})
		if err != nil {
			return deployment, err
		}
		engine.metrics.ProcessesDeployed.Add(ctx, 1)
		deployment.Processes = append(deployment.Processes, metadata)
	}

	_, err = engine.writeRecord(ctx, deployment.Key, record.ValueTypeDeployment, record.IntentCreated, record.DeploymentValue{
		ResourceNames:     resourceNames,
		ProcessesMetadata: deployment.Processes,
	})
	if err != nil {
		return deployment, err
	}
	engine.logger.Debug("deployed", "deploymentKey", deployment.Key, "resources", resourceNames)
	return deployment, nil
}
