package actions

func object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any     { return map[string]any{"type": "string", "description": desc} }
func integer(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }
func number(desc string) map[string]any  { return map[string]any{"type": "number", "description": desc} }
func boolean(desc string) map[string]any { return map[string]any{"type": "boolean", "description": desc} }

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
