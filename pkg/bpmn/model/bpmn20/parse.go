package bpmn20

import (
	"encoding/xml"
	"fmt"
)

// Parse unmarshals and validates a BPMN 2.0 XML resource.
func Parse(data []byte) (*TDefinitions, error) {
	var definitions TDefinitions
	if err := xml.Unmarshal(data, &definitions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal BPMN resource: %w", err)
	}
	if err := definitions.Validate(); err != nil {
		return nil, err
	}
	return &definitions, nil
}

// Marshal renders the definitions as BPMN XML.
func Marshal(definitions *TDefinitions) ([]byte, error) {
	if definitions.Xmlns == "" {
		definitions.Xmlns = NamespaceModel
	}
	if definitions.XmlnsZeebe == "" {
		definitions.XmlnsZeebe = NamespaceZeebe
	}
	out, err := xml.MarshalIndent(definitions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definitions %q: %w", definitions.Process.Id, err)
	}
	return append([]byte(xml.Header), out...), nil
}
