package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/llm"
)

// Hints is the structured reading of a question by the text-understanding
// capability. Column names are re-validated against the catalog before use.
type Hints struct {
	Intent         Intent   `json:"intent"`
	Measures       []string `json:"measures,omitempty"`
	Aggregation    AggFunc  `json:"aggregation,omitempty"`
	GroupBy        []string `json:"groupBy,omitempty"`
	Columns        []string `json:"columns,omitempty"`
	Confidence     float64  `json:"confidence"`
	Interpretation string   `json:"interpretation,omitempty"`
}

// Hinter produces hints for a question.
type Hinter interface {
	Hints(ctx context.Context, question string, cat *catalog.Catalog, history []Turn) (*Hints, error)
}

// LLMHinter asks a completion model for hints.
type LLMHinter struct {
	log    *slog.Logger
	client llm.Client
}

func NewLLMHinter(log *slog.Logger, client llm.Client) *LLMHinter {
	return &LLMHinter{log: log, client: client}
}

const hintSystemPrompt = `You interpret questions about a transaction table for a SQL generator.
Answer with a single JSON object and nothing else:
{"intent": one of "list","filter","aggregation","comparison","trend","balance",
 "measures": [numeric column names to aggregate],
 "aggregation": one of "COUNT","SUM","AVG","MIN","MAX" or "",
 "groupBy": [column names to group by],
 "columns": [column names the question refers to],
 "confidence": number between 0 and 1,
 "interpretation": one sentence restating the question}
Only use column names from the list below.`

func (h *LLMHinter) Hints(ctx context.Context, question string, cat *catalog.Catalog, history []Turn) (*Hints, error) {
	var sb strings.Builder
	sb.WriteString(hintSystemPrompt)
	sb.WriteString("\n\nColumns of " + cat.SchemaType + ":\n")
	for _, f := range cat.Fields {
		fmt.Fprintf(&sb, "- %s (%s, %s): %s", f.Column, f.Type, f.Category, f.Description)
		if len(f.Aliases) > 0 {
			sb.WriteString("; also called " + strings.Join(f.Aliases, ", "))
		}
		sb.WriteString("\n")
	}

	var user strings.Builder
	if len(history) > 0 {
		user.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&user, "%s: %s\n", t.Role, t.Content)
		}
		user.WriteString("\n")
	}
	user.WriteString("Question: " + question)

	response, err := h.client.Complete(ctx, sb.String(), user.String())
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	hints, err := ParseHints(response)
	if err != nil {
		h.log.Debug("translator: unparseable hint response", "response", response)
		return nil, err
	}
	return hints, nil
}

// ParseHints decodes a hint response that may wrap its JSON in prose or
// markdown.
func ParseHints(response string) (*Hints, error) {
	raw := llm.ExtractJSON(response)
	if raw == "" {
		return nil, errors.New("no JSON object in hint response")
	}
	var h Hints
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("failed to parse hint response: %w", err)
	}
	h.Intent = Intent(strings.ToLower(string(h.Intent)))
	h.Aggregation = AggFunc(strings.ToUpper(string(h.Aggregation)))
	if h.Confidence < 0 || h.Confidence > 1 {
		h.Confidence = 0
	}
	return &h, nil
}

// CachedHinter memoizes hints per schema type and normalized question.
// Questions asked with history are not cached.
type CachedHinter struct {
	next  Hinter
	cache *ttlcache.Cache[string, *Hints]
}

func NewCachedHinter(next Hinter, ttl time.Duration) *CachedHinter {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Hints](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Hints](),
	)
	return &CachedHinter{next: next, cache: cache}
}

// Start runs expiry cleanup until Stop is called.
func (c *CachedHinter) Start() { c.cache.Start() }

func (c *CachedHinter) Stop() { c.cache.Stop() }

func (c *CachedHinter) Hints(ctx context.Context, question string, cat *catalog.Catalog, history []Turn) (*Hints, error) {
	if len(history) > 0 {
		return c.next.Hints(ctx, question, cat, history)
	}
	key := cat.SchemaType + "|" + normalizeText(question)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	h, err := c.next.Hints(ctx, question, cat, history)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, h, ttlcache.DefaultTTL)
	return h, nil
}
