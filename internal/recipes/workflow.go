package recipes

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Workflow payload compression tags.
const (
	CompressionNone uint8 = 0
	CompressionGzip uint8 = 1
)

// decodeWorkflow decompresses and parses a workflow payload. Failures are
// reported as a message rather than an error so a bad payload never blocks
// the rest of a batch fetch.
func decodeWorkflow(data []byte, compression uint8) (map[string]interface{}, string) {
	if len(data) == 0 {
		return nil, "empty workflow data"
	}

	var raw []byte
	switch compression {
	case CompressionNone:
		raw = data
	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Sprintf("open gzip stream: %v", err)
		}
		defer reader.Close()
		raw, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Sprintf("decompress gzip: %v", err)
		}
	default:
		return nil, fmt.Sprintf("unsupported compression type: %d", compression)
	}

	var workflow map[string]interface{}
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, fmt.Sprintf("parse workflow JSON: %v", err)
	}
	return workflow, ""
}

// Workflow graphs come in two shapes: the native format with a "nodes" array,
// and a flat map of node-id keys. Both carry the node kind under "type" or
// "class_type" and model file names under "inputs" or "widgets_values".

// ExtractModels collects the model file names referenced by loader nodes in
// a workflow graph. The result order is unspecified.
func ExtractModels(workflow map[string]interface{}) []string {
	found := map[string]bool{}

	if nodes, ok := workflow["nodes"].([]interface{}); ok {
		for _, node := range nodes {
			if nodeMap, ok := node.(map[string]interface{}); ok {
				collectNodeModels(nodeMap, found)
			}
		}
	} else {
		for key, value := range workflow {
			if key == "extra" || key == "_meta" || key == "links" {
				continue
			}
			if nodeMap, ok := value.(map[string]interface{}); ok {
				collectNodeModels(nodeMap, found)
			}
		}
	}

	models := make([]string, 0, len(found))
	for model := range found {
		models = append(models, model)
	}
	return models
}

func collectNodeModels(node map[string]interface{}, found map[string]bool) {
	kind, _ := node["class_type"].(string)
	if kind == "" {
		kind, _ = node["type"].(string)
	}

	inputs, _ := node["inputs"].(map[string]interface{})
	widgets, _ := node["widgets_values"].([]interface{})

	addInput := func(key string) {
		if inputs == nil {
			return
		}
		if name, ok := inputs[key].(string); ok && name != "" {
			found[name] = true
		}
	}
	addFirstWidget := func() {
		if len(widgets) > 0 {
			if name, ok := widgets[0].(string); ok && name != "" {
				found[name] = true
			}
		}
	}

	switch kind {
	case "CheckpointLoaderSimple":
		addInput("ckpt_name")
		addFirstWidget()
	case "DualCLIPLoader":
		addInput("clip_name1")
		addInput("clip_name2")
	case "UNETLoader":
		addInput("unet_name")
		addFirstWidget()
	case "WanVideoModelLoader":
		addInput("model_name")
		addInput("model")
	case "VAELoader":
		addInput("vae_name")
	case "CLIPLoader":
		addInput("clip_name")
	}
}
