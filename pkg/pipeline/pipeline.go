// Package pipeline runs a question through translation, confirmation,
// execution and formatting, keeping the pending turn of each conversation
// between requests.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/txlens/txlens/pkg/catalog"
	"github.com/txlens/txlens/pkg/confirm"
	"github.com/txlens/txlens/pkg/connection"
	"github.com/txlens/txlens/pkg/executor"
	"github.com/txlens/txlens/pkg/format"
	"github.com/txlens/txlens/pkg/reports"
	"github.com/txlens/txlens/pkg/translator"
)

const DefaultPendingTTL = 30 * time.Minute

var (
	ErrUnknownSchemaType = errors.New("unknown schema type")
	ErrEmptyQuestion     = errors.New("question is required")
	ErrIncompatible      = errors.New("report does not support this schema type")
)

// Translator turns a question into SQL for one catalog.
type Translator interface {
	Translate(ctx context.Context, question string, cat *catalog.Catalog, history []translator.Turn) (*translator.TranslationResult, error)
}

// Executor runs SQL with bound parameters.
type Executor interface {
	Execute(ctx context.Context, sql string, params map[string]any) executor.Result
}

type Config struct {
	Logger     *slog.Logger
	Catalogs   catalog.Set
	Translator Translator
	Confirm    *confirm.Formatter
	Executor   Executor
	Format     *format.Formatter
	Reports    *reports.Registry
	Tables     connection.Tables
	Dialect    connection.Dialect

	// DefaultSchemaType is used when a request names none.
	DefaultSchemaType string
	PendingTTL        time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Catalogs) == 0 {
		return errors.New("catalogs are required")
	}
	if cfg.Translator == nil {
		return errors.New("translator is required")
	}
	if cfg.Confirm == nil {
		return errors.New("confirm formatter is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Format == nil {
		return errors.New("result formatter is required")
	}
	if cfg.Reports == nil {
		cfg.Reports = reports.Default()
	}
	if cfg.Tables == nil {
		return errors.New("tables are required")
	}
	if cfg.Dialect == nil {
		cfg.Dialect = connection.ANSI{}
	}
	if cfg.DefaultSchemaType == "" {
		types := cfg.Catalogs.SchemaTypes()
		cfg.DefaultSchemaType = types[0]
	}
	if _, ok := cfg.Catalogs.Get(cfg.DefaultSchemaType); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchemaType, cfg.DefaultSchemaType)
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	return nil
}

type Status string

const (
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusAwaitingColumn       Status = "awaiting_column"
	StatusAnswered             Status = "answered"
	StatusError                Status = "error"
)

// Answer is the outcome of one turn. Confirmation is set while the
// conversation waits on the user; Result once something ran.
type Answer struct {
	ConversationID string                        `json:"conversationId"`
	Status         Status                        `json:"status"`
	Confirmation   *confirm.Response             `json:"confirmation,omitempty"`
	Result         *format.Result                `json:"result,omitempty"`
	Translation    *translator.TranslationResult `json:"translation,omitempty"`
}

// Text is what a terminal or chat client shows for the turn.
func (a *Answer) Text() string {
	var parts []string
	if a.Confirmation != nil {
		parts = append(parts, a.Confirmation.Text)
	}
	if a.Result != nil {
		parts = append(parts, a.Result.Text())
	}
	return strings.Join(parts, "\n\n")
}

type AskRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Question       string `json:"question"`
	SchemaType     string `json:"schemaType,omitempty"`
}

type ReportRequest struct {
	ID         string          `json:"id"`
	SchemaType string          `json:"schemaType,omitempty"`
	Params     reports.Params  `json:"params"`
	Filters    reports.Filters `json:"filters"`
}

// turn is what a conversation waits on.
type turn struct {
	schemaType  string
	question    string
	history     []translator.Turn
	translation *translator.TranslationResult
	options     []confirm.Option
}

type Pipeline struct {
	log     *slog.Logger
	cfg     *Config
	pending *ttlcache.Cache[string, *turn]
}

func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	pending := ttlcache.New(
		ttlcache.WithTTL[string, *turn](cfg.PendingTTL),
		ttlcache.WithDisableTouchOnHit[string, *turn](),
	)
	return &Pipeline{log: cfg.Logger, cfg: cfg, pending: pending}, nil
}

// Start runs expiry of abandoned conversations until Stop is called.
func (p *Pipeline) Start() { p.pending.Start() }

func (p *Pipeline) Stop() { p.pending.Stop() }

func (p *Pipeline) catalog(schemaType string) (string, *catalog.Catalog, error) {
	if schemaType == "" {
		schemaType = p.cfg.DefaultSchemaType
	}
	cat, ok := p.cfg.Catalogs.Get(schemaType)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownSchemaType, schemaType)
	}
	return schemaType, cat, nil
}

// Ask starts a new turn, replacing whatever the conversation was waiting on.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	schemaType, cat, err := p.catalog(req.SchemaType)
	if err != nil {
		return nil, err
	}
	return p.translate(ctx, id, &turn{schemaType: schemaType, question: question}, cat), nil
}

func (p *Pipeline) translate(ctx context.Context, id string, t *turn, cat *catalog.Catalog) *Answer {
	p.pending.Delete(id)
	answer := &Answer{ConversationID: id}

	tr, err := p.cfg.Translator.Translate(ctx, t.question, cat, t.history)
	if err != nil {
		p.log.Warn("pipeline: translation failed", "conversation", id, "error", err)
		resp := p.cfg.Confirm.Error(t.question, translationMessage(err), "")
		answer.Status, answer.Confirmation = StatusError, &resp
		return answer
	}
	t.translation = tr
	answer.Translation = tr

	if tr.Ambiguity != nil {
		resp := p.cfg.Confirm.Ambiguity(tr)
		answer.Confirmation = &resp
		if len(resp.Options) == 0 {
			answer.Status = StatusError
			return answer
		}
		t.options = resp.Options
		p.pending.Set(id, t, ttlcache.DefaultTTL)
		answer.Status = StatusAwaitingColumn
		return answer
	}

	resp := p.cfg.Confirm.Confirmation(tr)
	p.pending.Set(id, t, ttlcache.DefaultTTL)
	answer.Status, answer.Confirmation = StatusAwaitingConfirmation, &resp
	p.log.Info("pipeline: awaiting confirmation", "conversation", id, "confidence", tr.Confidence)
	return answer
}

func translationMessage(err error) string {
	switch {
	case errors.Is(err, translator.ErrTranslatorTimeout):
		return "Understanding the question took too long. Please try again or ask a shorter question."
	case errors.Is(err, connection.ErrMissingConnection):
		return "No data source is configured for this kind of data."
	}
	return err.Error()
}

// Reply answers whatever the conversation is waiting on: a confirmation, a
// modification, a column or alternative number, or a new question.
func (p *Pipeline) Reply(ctx context.Context, conversationID, text string) (*Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuestion
	}
	item := p.pending.Get(conversationID)
	if item == nil {
		return p.Ask(ctx, AskRequest{ConversationID: conversationID, Question: text})
	}
	t := item.Value()
	_, cat, err := p.catalog(t.schemaType)
	if err != nil {
		return nil, err
	}

	switch reply := parseReply(text); {
	case reply.kind == replyConfirm && t.options == nil:
		return p.run(ctx, conversationID, t, cat), nil
	case reply.kind == replyConfirm:
		resp := p.cfg.Confirm.ColumnSelection(optionColumns(t.options), t.question, "Pick a column before running the query.")
		return &Answer{ConversationID: conversationID, Status: StatusAwaitingColumn, Confirmation: &resp, Translation: t.translation}, nil
	case reply.kind == replyModify:
		next := &turn{
			schemaType: t.schemaType,
			question:   t.question + ", " + reply.text,
			history: append(append([]translator.Turn{}, t.history...),
				translator.Turn{Role: "user", Content: t.question},
				translator.Turn{Role: "assistant", Content: t.translation.InterpretedQuery},
				translator.Turn{Role: "user", Content: "modify: " + reply.text},
			),
		}
		return p.translate(ctx, conversationID, next, cat), nil
	case reply.kind == replyNumber && t.options != nil:
		for _, opt := range t.options {
			if opt.Number == reply.number {
				next := &turn{schemaType: t.schemaType, question: withColumn(t.question, t.translation.Ambiguity, opt.Column), history: t.history}
				return p.translate(ctx, conversationID, next, cat), nil
			}
		}
		resp := p.cfg.Confirm.ColumnSelection(optionColumns(t.options), t.question, fmt.Sprintf("%d is not one of the listed columns.", reply.number))
		return &Answer{ConversationID: conversationID, Status: StatusAwaitingColumn, Confirmation: &resp, Translation: t.translation}, nil
	case reply.kind == replyNumber:
		chosen, ok := t.translation.Choose(reply.number)
		if !ok {
			break
		}
		next := &turn{schemaType: t.schemaType, question: t.question, history: t.history, translation: chosen}
		p.pending.Set(conversationID, next, ttlcache.DefaultTTL)
		resp := p.cfg.Confirm.Confirmation(chosen)
		p.log.Info("pipeline: alternative chosen", "conversation", conversationID, "number", reply.number)
		return &Answer{ConversationID: conversationID, Status: StatusAwaitingConfirmation, Confirmation: &resp, Translation: chosen}, nil
	}
	return p.translate(ctx, conversationID, &turn{schemaType: t.schemaType, question: text}, cat), nil
}

func (p *Pipeline) run(ctx context.Context, id string, t *turn, cat *catalog.Catalog) *Answer {
	p.pending.Delete(id)
	tr := t.translation
	res := p.cfg.Executor.Execute(executor.WithSchema(ctx, cat.Describe()), tr.SQL, tr.Params)
	out := p.cfg.Format.Format(res, tr)
	status := StatusAnswered
	if !res.Success {
		status = StatusError
	}
	p.log.Info("pipeline: query finished", "conversation", id, "success", res.Success, "rows", len(res.Data), "retries", res.Metadata.RetryCount)
	return &Answer{ConversationID: id, Status: status, Result: &out, Translation: tr}
}

// RunReport validates, builds and runs a registered report, then formats its
// rows with the report's summary.
func (p *Pipeline) RunReport(ctx context.Context, req ReportRequest) (*Answer, error) {
	schemaType, cat, err := p.catalog(req.SchemaType)
	if err != nil {
		return nil, err
	}
	meta, ok := p.cfg.Reports.Metadata(req.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", reports.ErrReportNotFound, req.ID)
	}
	if !meta.CompatibleWith(schemaType) {
		return nil, fmt.Errorf("%w: %s on %s", ErrIncompatible, req.ID, schemaType)
	}
	answer := &Answer{ConversationID: uuid.NewString()}

	rep, err := p.cfg.Reports.Get(req.ID, reports.Env{Resolver: p.cfg.Tables.For(schemaType), Dialect: p.cfg.Dialect})
	if err != nil {
		return p.reportError(answer, meta, err), nil
	}
	if err := rep.Generator.Validate(req.Params); err != nil {
		return p.reportError(answer, meta, err), nil
	}
	q, err := rep.Generator.BuildQuery(ctx, req.Params, req.Filters)
	if err != nil {
		return p.reportError(answer, meta, err), nil
	}

	res := p.cfg.Executor.Execute(executor.WithSchema(ctx, cat.Describe()), q.SQL, q.Params)
	out := p.cfg.Format.Format(res, nil)
	answer.Status = StatusAnswered
	if res.Success {
		summary := rep.Generator.Summarize(rep.Generator.Transform(res.Data))
		out = p.cfg.Format.WithSummary(out, meta.Name, summary)
	} else {
		answer.Status = StatusError
	}
	answer.Result = &out
	p.log.Info("pipeline: report finished", "report", req.ID, "filtered", !req.Filters.Empty(), "success", res.Success, "rows", len(res.Data))
	return answer, nil
}

func (p *Pipeline) reportError(answer *Answer, meta reports.Metadata, err error) *Answer {
	p.log.Info("pipeline: report rejected", "report", meta.ID, "error", err)
	resp := p.cfg.Confirm.Error(meta.Name, err.Error(), "")
	answer.Status, answer.Confirmation = StatusError, &resp
	return answer
}

func optionColumns(options []confirm.Option) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = o.Column
	}
	return out
}
