// Package runtime hosts a single cell: it drains the cell's durable inbox,
// runs the agentic loop (think, call tools, think again) for each message,
// and publishes responses on the cell's outbox with trace context attached.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/cellmesh/budget"
	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/envelope"
	"github.com/c360studio/cellmesh/memory"
	"github.com/c360studio/cellmesh/mind"
	"github.com/c360studio/cellmesh/model"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/toolset"
	"github.com/c360studio/cellmesh/topology"
)

// DefaultMaxIterations caps the tool-call loop per inbox message.
const DefaultMaxIterations = 20

// dedupWindow bounds the remembered message ids for redelivery suppression.
const dedupWindow = 1024

// CostSink receives the cost of each completed LLM call. The worker wires it
// to the budget ledger so spend shows up in the hierarchy.
type CostSink func(ctx context.Context, cost float64)

// Runtime runs one cell. Inbox messages are processed strictly serially;
// every mutable field below is only touched from the drain goroutine or
// behind its own synchronization.
type Runtime struct {
	name      string
	namespace string
	spec      resource.CellSpec

	bus    bus.Bus
	brain  mind.Mind
	tools  *toolset.Registry
	mem    *memory.Memory
	track  *budget.Tracker
	routes topology.Table
	sink   CostSink
	logger *slog.Logger

	paused atomic.Bool

	mu        sync.Mutex
	processed map[string]bool
	order     []string
	subs      []bus.Subscription

	stopOnce sync.Once
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithRoutes installs the formation routing table. A nil table leaves the
// cell unrestricted.
func WithRoutes(t topology.Table) Option {
	return func(r *Runtime) { r.routes = t }
}

// WithCostSink forwards per-call LLM cost, typically into the ledger.
func WithCostSink(s CostSink) Option {
	return func(r *Runtime) { r.sink = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New builds a runtime for the cell. Memory and budget tracking are derived
// from the spec.
func New(name, namespace string, spec resource.CellSpec, b bus.Bus, brain mind.Mind, tools *toolset.Registry, opts ...Option) *Runtime {
	if tools == nil {
		tools = toolset.NewRegistry()
	}
	r := &Runtime{
		name:      name,
		namespace: namespace,
		spec:      spec,
		bus:       b,
		brain:     brain,
		tools:     tools,
		mem: memory.New(
			memory.WithMaxMessages(spec.Memory.MaxMessages),
			memory.WithSummarizeAfter(spec.Memory.SummarizeAfter),
		),
		track:     budget.NewTracker(spec.Budget.MaxTotalCost, spec.Budget.MaxCostPerHour),
		logger:    slog.Default(),
		processed: make(map[string]bool, dedupWindow),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("cell", name, "namespace", namespace)
	return r
}

// Tracker exposes the cell's budget tracker for status reporting.
func (r *Runtime) Tracker() *budget.Tracker { return r.track }

// Paused reports whether the cell is currently paused.
func (r *Runtime) Paused() bool { return r.paused.Load() }

// Start subscribes the durable inbox consumer and the control subject, then
// announces the cell. Processing continues until Stop or ctx cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	inboxSub, err := r.bus.SubscribeDurable(ctx,
		envelope.StreamInbox,
		envelope.DurableName(r.namespace, r.name),
		envelope.InboxSubject(r.namespace, r.name),
		r.handleInbox,
	)
	if err != nil {
		return fmt.Errorf("subscribe inbox: %w", err)
	}

	ctrlSub, err := r.bus.Subscribe(envelope.ControlSubject(r.namespace, r.name), func(subject string, data []byte) {
		env, err := envelope.Unmarshal(data)
		if err != nil {
			r.logger.Warn("malformed control envelope", "error", err)
			return
		}
		r.handleControl(ctx, env)
	})
	if err != nil {
		_ = inboxSub.Unsubscribe()
		return fmt.Errorf("subscribe control: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, inboxSub, ctrlSub)
	r.mu.Unlock()

	r.emitEvent(ctx, envelope.EventStarted, nil)
	r.logger.Info("cell started")
	return nil
}

// Stop tears down subscriptions and announces the stop. Safe to call more
// than once.
func (r *Runtime) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		subs := r.subs
		r.subs = nil
		r.mu.Unlock()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		r.emitEvent(ctx, envelope.EventStopped, nil)
		r.logger.Info("cell stopped")
	})
}

// SendTo publishes a message to another cell's inbox, subject to the
// formation routing table.
func (r *Runtime) SendTo(ctx context.Context, to, content string) error {
	if r.routes != nil && !r.routes.Allows(r.name, to) {
		return fmt.Errorf("topology forbids %s -> %s", r.name, to)
	}
	env := envelope.NewMessage(r.name, to, content)
	envelope.InjectTrace(ctx, env)
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, envelope.InboxSubject(r.namespace, to), data)
}

// handleInbox is the durable consumer callback. Returning nil acks; poison
// messages and handled failures are acked so they never wedge the inbox.
func (r *Runtime) handleInbox(ctx context.Context, _ string, data []byte) error {
	env, err := envelope.Unmarshal(data)
	if err != nil {
		r.logger.Warn("dropping malformed envelope", "error", err)
		return nil
	}
	if r.seen(env.ID) {
		r.logger.Debug("duplicate delivery suppressed", "envelope", env.ID)
		return nil
	}

	switch env.Type {
	case envelope.TypeControl:
		r.handleControl(ctx, env)
	case envelope.TypeMessage:
		r.handleMessage(ctx, env)
	default:
		// Event envelopes have no business in an inbox.
	}
	return nil
}

// seen records the envelope id and reports whether it was already processed.
func (r *Runtime) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processed[id] {
		return true
	}
	r.processed[id] = true
	r.order = append(r.order, id)
	if len(r.order) > dedupWindow {
		delete(r.processed, r.order[0])
		r.order = r.order[1:]
	}
	return false
}

func (r *Runtime) handleControl(ctx context.Context, env *envelope.Envelope) {
	cp, err := env.Control()
	if err != nil {
		r.logger.Warn("bad control payload", "error", err)
		return
	}
	switch cp.Command {
	case "pause":
		r.paused.Store(true)
		r.logger.Info("cell paused", "reason", cp.Reason)
	case "resume":
		r.paused.Store(false)
		r.logger.Info("cell resumed")
	case "drain":
		r.logger.Info("drain requested", "gracePeriodSeconds", cp.GracePeriodSeconds)
		go r.Stop(ctx)
	default:
		r.logger.Warn("unknown control command", "command", cp.Command)
	}
}

// handleMessage runs the agentic loop for one inbox message. Failures are
// reported back to the sender and as error events; they never propagate to
// the consumer.
func (r *Runtime) handleMessage(ctx context.Context, env *envelope.Envelope) {
	ctx = envelope.ExtractTrace(ctx, env)
	ctx, span := envelope.Tracer().Start(ctx, "cell.handle_message",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("cell.name", r.name),
			attribute.String("cell.namespace", r.namespace),
			attribute.String("envelope.id", env.ID),
			attribute.String("envelope.from", env.From),
		),
	)
	defer span.End()

	if r.paused.Load() {
		r.respond(ctx, env, fmt.Sprintf("Cell %s is paused", r.name))
		messagesProcessed.WithLabelValues(r.name, "paused").Inc()
		return
	}

	r.mem.Append(mind.Message{Role: mind.RoleUser, Content: env.Content()})

	maxIter := r.spec.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for i := 0; i < maxIter; i++ {
		if r.track.IsExceeded() {
			r.paused.Store(true)
			r.emitEvent(ctx, envelope.EventBudgetExceeded, map[string]any{
				"total":  r.track.Total(),
				"hourly": r.track.Hourly(),
			})
			// The pause must be visible in the conversation after a resume.
			r.mem.Append(mind.Message{Role: mind.RoleAssistant, Content: "Budget exceeded; cell paused"})
			r.respond(ctx, env, "Budget exceeded; cell paused")
			r.logger.Warn("budget exceeded, pausing cell",
				"total", r.track.Total(), "hourly", r.track.Hourly())
			messagesProcessed.WithLabelValues(r.name, "budget_exceeded").Inc()
			return
		}

		resp, err := r.think(ctx)
		if err != nil {
			errText := fmt.Sprintf("Error: %s", err)
			r.mem.Append(mind.Message{Role: mind.RoleAssistant, Content: errText})
			r.emitEvent(ctx, envelope.EventError, map[string]any{"error": err.Error()})
			r.respond(ctx, env, errText)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("think failed", "error", err)
			messagesProcessed.WithLabelValues(r.name, "error").Inc()
			return
		}

		cost := model.CostFor(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if cost > 0 {
			r.track.AddCost(cost)
			llmCost.WithLabelValues(r.name).Add(cost)
			if r.sink != nil {
				r.sink(ctx, cost)
			}
		}
		llmTokens.WithLabelValues(r.name, "prompt").Add(float64(resp.Usage.PromptTokens))
		llmTokens.WithLabelValues(r.name, "completion").Add(float64(resp.Usage.CompletionTokens))

		if resp.StopReason == mind.StopToolUse && len(resp.ToolCalls) > 0 {
			r.runTools(ctx, resp)
			continue
		}

		r.mem.Append(mind.Message{Role: mind.RoleAssistant, Content: resp.Content})
		r.respond(ctx, env, resp.Content)
		r.emitEvent(ctx, envelope.EventResponse, map[string]any{
			"model":            resp.Model,
			"stopReason":       resp.StopReason,
			"promptTokens":     resp.Usage.PromptTokens,
			"completionTokens": resp.Usage.CompletionTokens,
			"cost":             cost,
		})
		messagesProcessed.WithLabelValues(r.name, "response").Inc()
		return
	}

	r.respond(ctx, env, "Maximum tool call iterations reached")
	r.emitEvent(ctx, envelope.EventMaxIterations, map[string]any{"iterations": maxIter})
	r.logger.Warn("tool call iteration cap hit", "iterations", maxIter)
	messagesProcessed.WithLabelValues(r.name, "max_iterations").Inc()
}

// think issues one LLM call with the assembled conversation and tools.
func (r *Runtime) think(ctx context.Context) (*mind.Response, error) {
	ctx, span := envelope.Tracer().Start(ctx, "cell.llm_call",
		trace.WithAttributes(attribute.String("cell.capability", r.spec.Capability)))
	defer span.End()

	messages := make([]mind.Message, 0, r.mem.Len()+1)
	if r.spec.SystemPrompt != "" {
		messages = append(messages, mind.Message{Role: mind.RoleSystem, Content: r.spec.SystemPrompt})
	}
	messages = append(messages, r.mem.Messages()...)

	start := time.Now()
	resp, err := r.brain.Think(ctx, mind.Request{
		Capability:  r.spec.Capability,
		Messages:    messages,
		Tools:       r.tools.Definitions(),
		Temperature: r.spec.Temperature,
		MaxTokens:   r.spec.MaxTokens,
	})
	llmLatency.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	if err != nil {
		llmCalls.WithLabelValues(r.name, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	llmCalls.WithLabelValues(r.name, "ok").Inc()
	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.String("llm.stop_reason", resp.StopReason),
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// runTools executes the requested tool calls in order and records their
// results in memory. Tool failures are surfaced to the model, not to the
// caller.
func (r *Runtime) runTools(ctx context.Context, resp *mind.Response) {
	r.mem.Append(mind.Message{
		Role:      mind.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	for _, call := range resp.ToolCalls {
		callCtx, span := envelope.Tracer().Start(ctx, "cell.tool_call",
			trace.WithAttributes(attribute.String("tool.name", call.Name)))
		res := r.tools.Execute(callCtx, call)

		content := res.Content
		outcome := "ok"
		if res.Error != "" {
			content = "Error: " + res.Error
			outcome = "error"
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
		toolCalls.WithLabelValues(r.name, call.Name, outcome).Inc()

		r.mem.Append(mind.Message{
			Role:       mind.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}

	if r.mem.NeedsSummary() {
		if err := r.mem.Summarize(ctx, r.brain, r.spec.Capability); err != nil {
			r.logger.Warn("summarization failed", "error", err)
		}
	}
}

// respond publishes a message envelope on the cell's outbox, addressed to the
// original sender and carrying the current trace context.
func (r *Runtime) respond(ctx context.Context, env *envelope.Envelope, content string) {
	out := envelope.NewMessage(r.name, env.From, content)
	envelope.InjectTrace(ctx, out)
	data, err := out.Marshal()
	if err != nil {
		r.logger.Error("marshal outbox envelope", "error", err)
		return
	}
	if err := r.bus.Publish(ctx, envelope.OutboxSubject(r.namespace, r.name), data); err != nil {
		r.logger.Error("publish outbox envelope", "error", err)
	}
}

// emitEvent publishes a structured event on the cell's events subject.
func (r *Runtime) emitEvent(ctx context.Context, typ string, payload any) {
	ev, err := envelope.NewEvent(typ, r.name, r.namespace, payload)
	if err != nil {
		r.logger.Error("build event", "type", typ, "error", err)
		return
	}
	data, err := ev.Marshal()
	if err != nil {
		r.logger.Error("marshal event", "type", typ, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, envelope.EventsSubject(r.namespace, r.name), data); err != nil {
		r.logger.Error("publish event", "type", typ, "error", err)
	}
}
