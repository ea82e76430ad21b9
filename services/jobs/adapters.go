package jobs

// Defaults applied by the built-in input adapters
const (
	DefaultWidth            = 1024
	DefaultHeight           = 1024
	DefaultInferenceSteps   = 28
	primaryTextField        = "prompt"
	alternateTextField      = "text"
	inferenceStepsField     = "num_inference_steps"
	widthField, heightField = "width", "height"
)

// InputAdapter rewrites the canonical input into an alternate shape for
// backends that reject it with 422. Apply must not mutate its argument and
// reports false when the shape would be identical to the input.
type InputAdapter struct {
	Name  string
	Apply func(input map[string]interface{}) (map[string]interface{}, bool)
}

// DefaultInputAdapters returns the built-in shapes in the order they are tried
func DefaultInputAdapters() []InputAdapter {
	return []InputAdapter{
		{Name: "rename_prompt_to_text", Apply: renamePromptToText},
		{Name: "add_default_dimensions", Apply: addDefaultDimensions},
		{Name: "add_default_steps", Apply: addDefaultSteps},
	}
}

func renamePromptToText(input map[string]interface{}) (map[string]interface{}, bool) {
	prompt, ok := input[primaryTextField]
	if !ok {
		return nil, false
	}
	if _, exists := input[alternateTextField]; exists {
		return nil, false
	}

	out := cloneInput(input)
	delete(out, primaryTextField)
	out[alternateTextField] = prompt
	return out, true
}

func addDefaultDimensions(input map[string]interface{}) (map[string]interface{}, bool) {
	out := cloneInput(input)
	changed := setDefault(out, widthField, DefaultWidth)
	changed = setDefault(out, heightField, DefaultHeight) || changed
	return out, changed
}

func addDefaultSteps(input map[string]interface{}) (map[string]interface{}, bool) {
	out, changed := addDefaultDimensions(input)
	changed = setDefault(out, inferenceStepsField, DefaultInferenceSteps) || changed
	return out, changed
}

func setDefault(input map[string]interface{}, key string, value interface{}) bool {
	if _, ok := input[key]; ok {
		return false
	}
	input[key] = value
	return true
}

func cloneInput(input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input)+3)
	for k, v := range input {
		out[k] = v
	}
	return out
}
