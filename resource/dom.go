package resource

import (
	"encoding/json"
	"fmt"
)

// DOMContentType marks a serialized node tree for the render service.
const DOMContentType = "x-applitools-html/cdt"

type domDocument struct {
	Resources map[string]HashObject `json:"resources"`
	DOMNodes  json.RawMessage       `json:"domNodes"`
}

// NewDOM wraps a captured node tree and the hashes of the resources it
// references into a resource of its own. The resource has no URL; frames
// get theirs from the parent mapping. Resource keys are serialized in
// sorted order so identical pages hash identically.
func NewDOM(nodes json.RawMessage, resources map[string]*Resource) (*Resource, error) {
	if len(nodes) == 0 {
		nodes = json.RawMessage("[]")
	}
	doc := domDocument{Resources: make(map[string]HashObject, len(resources)), DOMNodes: nodes}
	for u, r := range resources {
		if r == nil {
			continue
		}
		doc.Resources[u] = r.HashObject()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("resource: dom: %w", err)
	}
	return New("", DOMContentType, body), nil
}
