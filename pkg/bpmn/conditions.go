// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"strings"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn/model/bpmn20"
)

// exclusivelyFilterByConditionExpression
// [From BPMN 2.0 Specification, chapter 10.5.2 Exclusive Gateway]
// A diverging Exclusive Gateway (Decision) is used to create alternative paths within a Process flow.
// For a given instance of the Process, only one of the paths can be taken.
// A default path can optionally be identified, to be taken in the event that none of the conditional Expressions evaluate
// to true. If a default path is not specified and the Process is executed such that none of the conditional Expressions
// evaluates to true, a runtime exception occurs.
// A converging Exclusive Gateway is used to merge alternative paths. Each incoming Sequence Flow token is routed
// to the outgoing Sequence Flow without synchronization.
func exclusivelyFilterByConditionExpression(gateway *bpmn20.TExclusiveGateway, flows []*bpmn20.TSequenceFlow, variableContext map[string]any) (*bpmn20.TSequenceFlow, error) {
	var defaultFlow *bpmn20.TSequenceFlow
	flowIds := strings.Builder{}
	for _, flow := range flows {
		if flow.Id == gateway.DefaultFlowId {
			defaultFlow = flow
			continue
		}
		expression := flow.GetConditionExpression()
		if expression == "" {
			// one unconditional flow is enough to proceed further
			return flow, nil
		}
		flowIds.WriteString(fmt.Sprintf("[id='%s',name='%s']", flow.GetId(), flow.GetName()))
		out, err := evaluateExpression(expression, variableContext)
		if err != nil {
			return nil, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Error evaluating expression in flow element id='%s' name='%s'", flow.GetId(), flow.GetName()),
				Err: err,
			}
		}
		if out == true {
			return flow, nil
		}
	}
	if defaultFlow == nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("No default flow, nor matching expressions found, for flow elements: %s", flowIds.String()),
		}
	}
	return defaultFlow, nil
}
