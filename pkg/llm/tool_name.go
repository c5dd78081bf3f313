// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import "strings"

// SanitizeToolName rewrites a tool name into provider-safe form. The
// providers the orchestrator streams against restrict tool names:
//   - OpenAI function names: ^[a-zA-Z0-9_.\-]+$
//   - Bedrock-hosted Anthropic: ^[a-zA-Z0-9_-]{1,64}$
//   - Gemini function declarations: ^[a-zA-Z_][a-zA-Z0-9_]*$
//
// Namespaced tool registries use colons (e.g. "browser:navigate",
// "shell:run_command"), which every pattern above rejects. Colons become
// underscores on the way out; the orchestrator keeps the sanitized→original
// map so tool_use blocks coming back get their real names before tool.call
// events are persisted.
func SanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		if ch == ':' {
			b.WriteRune('_')
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// BuildToolNameMap maps each name's sanitized form back to the original,
// for restoring names on returned tool_use blocks.
func BuildToolNameMap(names []string) map[string]string {
	m := make(map[string]string, len(names))
	for _, name := range names {
		sanitized := SanitizeToolName(name)
		m[sanitized] = name
	}
	return m
}

// ReverseToolName maps a sanitized tool name back to its original,
// returning the input unchanged when it was never sanitized.
func ReverseToolName(nameMap map[string]string, sanitizedName string) string {
	if original, exists := nameMap[sanitizedName]; exists {
		return original
	}
	return sanitizedName
}
