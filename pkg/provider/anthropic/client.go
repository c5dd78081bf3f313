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
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/coralweave/sessioncore/pkg/eventcore"
	"github.com/coralweave/sessioncore/pkg/llm"
	"github.com/coralweave/sessioncore/pkg/provider"
)

const defaultMaxTokens = 8192

// Config configures the Anthropic streaming client. With UseBedrock set,
// requests are signed and routed through AWS Bedrock instead of the
// Anthropic API; the credential resolution order is explicit static
// credentials, then a named profile, then the default AWS chain.
type Config struct {
	// APIKey authenticates against the Anthropic API directly. Ignored when
	// UseBedrock is set. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	UseBedrock      bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string

	// MaxTokens caps each response. Defaults to 8192.
	MaxTokens int64

	// RateLimiter, when non-nil, records token usage per turn for its
	// token-per-minute accounting. Request-level limiting is the
	// orchestrator's concern; streams are consumed synchronously here.
	RateLimiter *llm.RateLimiter
}

// Client implements provider.Provider over the Anthropic Messages API,
// optionally transported through AWS Bedrock.
type Client struct {
	client      *sdk.Client
	maxTokens   int64
	rateLimiter *llm.RateLimiter
}

// NewClient builds a streaming client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	var client sdk.Client
	if cfg.UseBedrock {
		awsCfg, err := loadAWSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("anthropic: load aws config: %w", err)
		}
		client = sdk.NewClient(bedrock.WithConfig(awsCfg))
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		client = sdk.NewClient(option.WithAPIKey(key))
	}

	return &Client{
		client:      &client,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: cfg.RateLimiter,
	}, nil
}

func loadAWSConfig(cfg Config) (aws.Config, error) {
	ctx := context.Background()
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		return awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	case cfg.Profile != "":
		return awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithSharedConfigProfile(cfg.Profile),
		)
	default:
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
}

// Stream drives one assistant turn against the Messages API, translating
// SDK stream events into the provider-agnostic event surface. The channel
// is closed when the turn completes or fails.
func (c *Client) Stream(ctx context.Context, opts provider.StreamOptions, ch chan<- provider.StreamEvent) error {
	defer close(ch)

	params, err := c.buildParams(opts)
	if err != nil {
		ch <- provider.StreamEvent{Type: provider.StreamError, Error: err}
		return err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	send := func(ev provider.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(provider.StreamEvent{Type: provider.StreamStart}) {
		return ctx.Err()
	}

	var usage eventcore.Usage
	var stopReason string
	var content []eventcore.ContentBlock
	// index → position in content, for routing deltas to their block
	blockAt := make(map[int64]int)
	// index → accumulated raw JSON for tool_use inputs
	argBuf := make(map[int64]*strings.Builder)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage.InputTokens = int(event.Message.Usage.InputTokens)
			usage.CacheCreationInputTokens = int(event.Message.Usage.CacheCreationInputTokens)
			usage.CacheReadInputTokens = int(event.Message.Usage.CacheReadInputTokens)

		case "content_block_start":
			switch event.ContentBlock.Type {
			case "text":
				blockAt[event.Index] = len(content)
				content = append(content, eventcore.ContentBlock{Type: eventcore.BlockText})
				if !send(provider.StreamEvent{Type: provider.StreamTextStart}) {
					return ctx.Err()
				}
			case "thinking":
				blockAt[event.Index] = len(content)
				content = append(content, eventcore.ContentBlock{Type: eventcore.BlockThinking})
				if !send(provider.StreamEvent{Type: provider.StreamThinkingStart}) {
					return ctx.Err()
				}
			case "tool_use":
				blockAt[event.Index] = len(content)
				content = append(content, eventcore.ContentBlock{
					Type:       eventcore.BlockToolUse,
					ToolCallID: event.ContentBlock.ID,
					ToolName:   event.ContentBlock.Name,
				})
				argBuf[event.Index] = &strings.Builder{}
				if !send(provider.StreamEvent{
					Type:       provider.StreamToolCallStart,
					ToolCallID: event.ContentBlock.ID,
					ToolName:   event.ContentBlock.Name,
				}) {
					return ctx.Err()
				}
			}

		case "content_block_delta":
			i, tracked := blockAt[event.Index]
			switch event.Delta.Type {
			case "text_delta":
				if tracked {
					content[i].Text += event.Delta.Text
				}
				if !send(provider.StreamEvent{Type: provider.StreamTextDelta, Delta: event.Delta.Text}) {
					return ctx.Err()
				}
			case "thinking_delta":
				if tracked {
					content[i].Text += event.Delta.Thinking
				}
				if !send(provider.StreamEvent{Type: provider.StreamThinkingDelta, Delta: event.Delta.Thinking}) {
					return ctx.Err()
				}
			case "signature_delta":
				if tracked {
					sig := event.Delta.Signature
					if content[i].Signature != nil {
						sig = *content[i].Signature + event.Delta.Signature
					}
					content[i].Signature = &sig
				}
			case "input_json_delta":
				var callID string
				if tracked {
					callID = content[i].ToolCallID
				}
				if buf, ok := argBuf[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
				if !send(provider.StreamEvent{
					Type:       provider.StreamToolCallDelta,
					ToolCallID: callID,
					ArgsDelta:  event.Delta.PartialJSON,
				}) {
					return ctx.Err()
				}
			}

		case "content_block_stop":
			if i, ok := blockAt[event.Index]; ok {
				switch content[i].Type {
				case eventcore.BlockText:
					if !send(provider.StreamEvent{Type: provider.StreamTextEnd}) {
						return ctx.Err()
					}
				case eventcore.BlockThinking:
					if !send(provider.StreamEvent{Type: provider.StreamThinkingEnd}) {
						return ctx.Err()
					}
				case eventcore.BlockToolUse:
					if buf, ok := argBuf[event.Index]; ok && buf.Len() > 0 {
						var input map[string]any
						if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
							content[i].Input = input
						}
						delete(argBuf, event.Index)
					}
					if !send(provider.StreamEvent{Type: provider.StreamToolCallEnd, ToolCallID: content[i].ToolCallID}) {
						return ctx.Err()
					}
				}
			}

		case "message_delta":
			if event.Delta.StopReason != "" {
				stopReason = string(event.Delta.StopReason)
			}
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(event.Usage.OutputTokens)
			}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- provider.StreamEvent{Type: provider.StreamError, Error: err}
		return err
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(usage.InputTokens + usage.OutputTokens))
	}

	send(provider.StreamEvent{Type: provider.StreamDone, Done: &provider.DoneInfo{
		Content:    content,
		Usage:      usage,
		StopReason: stopReason,
	}})
	return nil
}

// buildParams assembles MessageNewParams from provider-agnostic options.
func (c *Client) buildParams(opts provider.StreamOptions) (sdk.MessageNewParams, error) {
	messages, err := ToMessageParams(opts.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(opts.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if opts.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if len(opts.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, len(opts.Tools))
		for i, t := range opts.Tools {
			tools[i] = sdk.ToolUnionParam{
				OfTool: &sdk.ToolParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					InputSchema: sdk.ToolInputSchemaParam{
						Properties: t.InputSchema["properties"],
					},
				},
			}
		}
		params.Tools = tools
	}
	return params, nil
}

var _ provider.Provider = (*Client)(nil)
