// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package eventcore

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ModelContextLimits describes a model's context window and the portion
// reserved for its own output.
type ModelContextLimits struct {
	MaxContextTokens     int
	ReservedOutputTokens int
}

// modelContextLimits is a lookup table for known model context limits,
// keyed by base model name without version/date suffixes.
var modelContextLimits = map[string]ModelContextLimits{
	"claude-sonnet-4":   {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-opus-4":     {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-5-sonnet": {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-7-sonnet": {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-opus":     {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-haiku":    {MaxContextTokens: 200000, ReservedOutputTokens: 20000},

	"gpt-4-turbo":   {MaxContextTokens: 128000, ReservedOutputTokens: 12800},
	"gpt-4o":        {MaxContextTokens: 128000, ReservedOutputTokens: 16384},
	"gpt-4":         {MaxContextTokens: 8192, ReservedOutputTokens: 819},
	"gpt-3.5-turbo": {MaxContextTokens: 16385, ReservedOutputTokens: 1638},
	"o1":            {MaxContextTokens: 200000, ReservedOutputTokens: 100000},
	"o3":            {MaxContextTokens: 200000, ReservedOutputTokens: 100000},

	"gemini-2.0-flash": {MaxContextTokens: 1000000, ReservedOutputTokens: 8192},
	"gemini-1.5-pro":   {MaxContextTokens: 1000000, ReservedOutputTokens: 100000},
	"gemini-1.5-flash": {MaxContextTokens: 1000000, ReservedOutputTokens: 100000},
}

// GetModelContextLimits resolves limits by exact match, then longest
// matching base-name prefix (e.g. "claude-3-5-sonnet-20241022" matches
// "claude-3-5-sonnet").
func GetModelContextLimits(model string) *ModelContextLimits {
	if limits, ok := modelContextLimits[model]; ok {
		return &limits
	}

	var bestBase string
	var bestLimits *ModelContextLimits
	for base, limits := range modelContextLimits {
		if len(model) >= len(base) && model[:len(base)] == base && len(base) > len(bestBase) {
			bestBase = base
			l := limits
			bestLimits = &l
		}
	}
	return bestLimits
}

// GetProviderDefaultLimits returns a conservative default when a model is
// not in the lookup table.
func GetProviderDefaultLimits(provider string) ModelContextLimits {
	switch provider {
	case "anthropic":
		return ModelContextLimits{MaxContextTokens: 200000, ReservedOutputTokens: 20000}
	case "openai":
		return ModelContextLimits{MaxContextTokens: 128000, ReservedOutputTokens: 12800}
	case "google":
		return ModelContextLimits{MaxContextTokens: 1000000, ReservedOutputTokens: 100000}
	default:
		return ModelContextLimits{MaxContextTokens: 8192, ReservedOutputTokens: 819}
	}
}

// ResolveContextLimits is the fallback chain: model lookup, then provider
// default.
func ResolveContextLimits(provider, model string) ModelContextLimits {
	if limits := GetModelContextLimits(model); limits != nil {
		return *limits
	}
	return GetProviderDefaultLimits(provider)
}

// tiktokenEncodingByProvider picks the BPE encoding closest to each
// provider's actual tokenizer. Anthropic does not publish a BPE vocabulary,
// so cl100k_base is used as a reasonable proxy; it is always a heuristic
// refinement over the char-count estimate, never treated as authoritative
// (the API-reported usage always wins when available).
var tiktokenEncodingByProvider = map[string]string{
	"openai":    "cl100k_base",
	"anthropic": "cl100k_base",
	"google":    "cl100k_base",
}

// TokenEstimator provides a cached, best-effort token count for a string.
// It prefers a tiktoken-go BPE encoder and falls back to the ~4 chars/token
// heuristic if the encoder cannot be loaded (e.g. no network access to
// fetch its vocabulary file).
type TokenEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTokenEstimator returns a ready TokenEstimator. Safe for concurrent use.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate returns the token count of text for provider's tokenizer family.
func (e *TokenEstimator) Estimate(provider, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoderFor(provider); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return charHeuristicTokens(text)
}

func (e *TokenEstimator) encoderFor(provider string) *tiktoken.Tiktoken {
	encodingName, ok := tiktokenEncodingByProvider[provider]
	if !ok {
		encodingName = "cl100k_base"
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[encodingName]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// Cache the failure as a nil entry so repeated calls don't retry a
		// network fetch that will fail again.
		e.encoders[encodingName] = nil
		return nil
	}
	e.encoders[encodingName] = enc
	return enc
}

// charHeuristicTokens is the ~4-characters-per-token fallback estimate.
func charHeuristicTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
