// Package model routes chat requests to the right provider and
// resolves short model aliases to full model names.
package model

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/lunabot/luna/internal/errors"
	"github.com/lunabot/luna/internal/logger"
	"github.com/lunabot/luna/internal/model/contract"
	"github.com/lunabot/luna/internal/usage"
)

// Router dispatches by model-name prefix: claude-* to anthropic,
// gpt-*/o-series to openai, gemini-* to gemini. Registration order is
// irrelevant; the longest matching prefix wins.
type Router struct {
	defaultModel string
	aliases      map[string]string
	byPrefix     map[string]contract.Client
}

func NewRouter(defaultModel string, aliases map[string]string) *Router {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Router{
		defaultModel: defaultModel,
		aliases:      aliases,
		byPrefix:     make(map[string]contract.Client),
	}
}

// Register binds a client to one or more model-name prefixes.
func (r *Router) Register(client contract.Client, prefixes ...string) {
	for _, prefix := range prefixes {
		r.byPrefix[prefix] = client
		slog.Debug("Registered model provider", "provider", client.Name(), "prefix", prefix)
	}
}

// Resolve maps an alias or empty string to a full model name.
func (r *Router) Resolve(name string) string {
	if name == "" {
		return r.defaultModel
	}
	if full, ok := r.aliases[strings.ToLower(name)]; ok {
		return full
	}
	return name
}

func (r *Router) clientFor(model string) contract.Client {
	var best contract.Client
	bestLen := -1
	for prefix, client := range r.byPrefix {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = client
			bestLen = len(prefix)
		}
	}
	return best
}

// Providers lists registered provider names, for status output.
func (r *Router) Providers() []string {
	seen := map[string]bool{}
	var names []string
	for _, client := range r.byPrefix {
		if !seen[client.Name()] {
			seen[client.Name()] = true
			names = append(names, client.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Chat resolves the model, dispatches, and records token counts into
// the given sink. A nil sink skips accounting; provider failures are
// surfaced as transient.
func (r *Router) Chat(ctx context.Context, req contract.ChatRequest, sink usage.Recorder) (*contract.ChatResponse, error) {
	req.Model = r.Resolve(req.Model)

	client := r.clientFor(req.Model)
	if client == nil {
		return nil, errors.NotFound("no provider for model %q", req.Model)
	}

	slog.Debug("Routing chat request",
		"model", req.Model,
		"provider", client.Name(),
		"trace_id", logger.GetTraceID(ctx),
		"workspace", logger.GetWorkspace(ctx))

	resp, err := client.Chat(ctx, req)
	if err != nil {
		return nil, errors.WrapTransient(err, "chat via %s", client.Name())
	}

	if sink != nil {
		model := resp.Model
		if model == "" {
			model = req.Model
		}
		sink.Record(model, resp.InputTokens, resp.OutputTokens)
	}
	return resp, nil
}
