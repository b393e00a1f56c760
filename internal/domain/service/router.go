package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/tool"
)

// ErrorPayload is the structured, user-visible shape of a tool failure.
// Traceback is included only when the router is configured to surface it.
type ErrorPayload struct {
	ErrorType    string `json:"error_type"`
	Message      string `json:"message"`
	StatusCode   int    `json:"status_code,omitempty"`
	URL          string `json:"url,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
	Traceback    string `json:"traceback,omitempty"`
}

// JSON serializes the payload; a marshal failure degrades to a plain
// message string.
func (p *ErrorPayload) JSON() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf(`{"error_type":"internal","message":%q}`, p.Message)
	}
	return string(raw)
}

// RouterConfig tunes the tool-call router.
type RouterConfig struct {
	ActionTTL        time.Duration // consumer action expiry (default 60s)
	ToolTimeout      time.Duration // per platform-tool execution timeout (default 30s)
	MaxOutputChars   int           // tool output truncation (default 32000)
	SurfaceTraceback bool          // include traceback in error payloads
}

// DispatchOutcome summarizes one turn's batch dispatch.
type DispatchOutcome struct {
	// ConsumerPending holds actions surfaced to the caller; non-empty
	// means the run must move to pending_action.
	ConsumerPending []*entity.Action
	// Executed holds platform actions processed this turn.
	Executed []*entity.Action
}

// Router classifies tool-call intents as platform-native or
// consumer-side and drives the Action lifecycle (C3).
type Router struct {
	registry  *tool.Registry
	actions   repository.ActionRepository
	messages  repository.MessageRepository
	hcache    HistoryCache
	validator *SchemaValidator
	cfg       RouterConfig
	logger    *zap.Logger
}

// NewRouter wires the router. hcache may be nil (tests).
func NewRouter(registry *tool.Registry, actions repository.ActionRepository, messages repository.MessageRepository, hcache HistoryCache, cfg RouterConfig, logger *zap.Logger) *Router {
	if cfg.ActionTTL <= 0 {
		cfg.ActionTTL = 60 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.MaxOutputChars <= 0 {
		cfg.MaxOutputChars = 32000
	}
	return &Router{
		registry:  registry,
		actions:   actions,
		messages:  messages,
		hcache:    hcache,
		validator: NewSchemaValidator(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Validator exposes the schema cache for invalidation on assistant
// updates.
func (r *Router) Validator() *SchemaValidator {
	return r.validator
}

// --- detection passes ---

// fcRe matches <fc>-style wrapped JSON envelopes, including the
// equivalent XML dialect wrappers, after the fact (pass 2).
var fcRe = regexp.MustCompile(`(?s)<(?:fc|tool_call|tool_code)>\s*(\{.*?\})\s*</(?:fc|tool_call|tool_code)>|` + "```json" + `\s*(\{.*?\})\s*` + "```")

// looseCallRe anchors the legacy pass-3 scan: any {"name": "...",
// "arguments": {...}} object anywhere in the reply.
var looseCallRe = regexp.MustCompile(`\{\s*"name"\s*:`)

// DetectCalls applies the three detection passes with first-hit-wins
// precedence: native events, then wrapped envelopes in the accumulated
// content, then the loose regex. Passes 2 and 3 run only when the
// earlier passes produced nothing for the turn.
func (r *Router) DetectCalls(native []entity.ToolCallInfo, content string) []entity.ToolCallInfo {
	if len(native) > 0 {
		return native
	}
	if calls := r.detectWrapped(content); len(calls) > 0 {
		return calls
	}
	return r.detectLoose(content)
}

func (r *Router) detectWrapped(content string) []entity.ToolCallInfo {
	var calls []entity.ToolCallInfo
	for _, m := range fcRe.FindAllStringSubmatch(content, -1) {
		payload := m[1]
		if payload == "" {
			payload = m[2]
		}
		info, ok := parseInlineCall(payload)
		if !ok {
			continue
		}
		if !validArguments(info.Arguments) {
			r.logger.Warn("Rejected wrapped tool call with invalid arguments",
				zap.String("tool", info.Name))
			continue
		}
		calls = append(calls, *info)
	}
	return calls
}

func (r *Router) detectLoose(content string) []entity.ToolCallInfo {
	for _, loc := range looseCallRe.FindAllStringIndex(content, -1) {
		raw, ok := balancedJSON(content[loc[0]:])
		if !ok {
			continue
		}
		info, parsed := parseInlineCall(raw)
		if !parsed || info.Arguments == nil {
			continue
		}
		if !validArguments(info.Arguments) {
			continue
		}
		return []entity.ToolCallInfo{*info}
	}
	return nil
}

// balancedJSON extracts the first brace-balanced object from s,
// skipping braces inside string literals.
func balancedJSON(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// validArguments enforces the argument shape: values must be scalars,
// strings, lists of scalars, or mongo-style query dictionaries where
// only $-prefixed operator keys may hold dict/list values.
func validArguments(args map[string]any) bool {
	for _, v := range args {
		if !validArgValue(v, false) {
			return false
		}
	}
	return true
}

func validArgValue(v any, underOperator bool) bool {
	switch t := v.(type) {
	case nil, bool, float64, int, int64, string:
		return true
	case []any:
		for _, item := range t {
			if !validArgValue(item, underOperator) {
				return false
			}
		}
		return true
	case map[string]any:
		return ValidMongoFilter(t)
	default:
		return false
	}
}

// ValidMongoFilter recursively checks a mongo-style query dictionary:
// dict/list values are legal only under $-prefixed operator keys.
func ValidMongoFilter(filter map[string]any) bool {
	for k, v := range filter {
		switch t := v.(type) {
		case map[string]any:
			if !strings.HasPrefix(k, "$") && !allOperatorKeys(t) {
				return false
			}
			if !ValidMongoFilter(t) {
				return false
			}
		case []any:
			if !strings.HasPrefix(k, "$") {
				return false
			}
			for _, item := range t {
				if m, ok := item.(map[string]any); ok {
					if !ValidMongoFilter(m) {
						return false
					}
				}
			}
		}
	}
	return true
}

func allOperatorKeys(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// --- dispatch ---

// Dispatch processes one turn's tool-call batch: persists an Action per
// call, executes platform tools in-process, and collects consumer-side
// actions for the caller. Calls run in emission order.
func (r *Router) Dispatch(ctx context.Context, run *entity.Run, turnIndex int, calls []entity.ToolCallInfo, assistant *entity.Assistant, emit func(entity.StreamChunk)) (*DispatchOutcome, error) {
	outcome := &DispatchOutcome{}

	for _, call := range calls {
		if existing, err := r.actions.FindByToolCallID(ctx, run.ID, call.ID); err == nil && existing != nil {
			r.logger.Warn("Duplicate tool_call_id in run, skipping",
				zap.String("run_id", run.ID),
				zap.String("tool_call_id", call.ID),
			)
			continue
		}

		action := &entity.Action{
			ID:           uuid.NewString(),
			RunID:        run.ID,
			ToolCallID:   call.ID,
			TurnIndex:    turnIndex,
			Status:       entity.ActionPending,
			FunctionName: call.Name,
			FunctionArgs: call.Arguments,
			ExpiresAt:    time.Now().Add(r.cfg.ActionTTL),
			TriggeredAt:  time.Now(),
		}
		if err := r.actions.Save(ctx, action); err != nil {
			return nil, fmt.Errorf("persist action: %w", err)
		}

		handler, platform := r.registry.Get(call.Name)
		if !platform {
			// Consumer path: validate against the declared schema before
			// surfacing; an invalid call fails its action immediately so
			// the model can recover next turn.
			if err := r.validator.Validate(assistant, call.Name, call.Arguments); err != nil {
				payload := &ErrorPayload{ErrorType: "validation_error", Message: err.Error()}
				if submitErr := r.submit(ctx, run.ThreadID, assistant.ID, payload.JSON(), action, true); submitErr != nil {
					r.logger.Error("Failed to record validation failure", zap.Error(submitErr))
				}
				outcome.Executed = append(outcome.Executed, action)
				continue
			}
			outcome.ConsumerPending = append(outcome.ConsumerPending, action)
			continue
		}

		r.executePlatform(ctx, run, action, handler, call, assistant.ID, emit)
		outcome.Executed = append(outcome.Executed, action)
	}
	return outcome, nil
}

// executePlatform runs one platform tool and submits its output.
// Handler errors never propagate: they become failed Actions with a
// structured payload so the model can recover on the next turn.
func (r *Router) executePlatform(ctx context.Context, run *entity.Run, action *entity.Action, handler tool.Handler, call entity.ToolCallInfo, assistantID string, emit func(entity.StreamChunk)) {
	action.Status = entity.ActionInProgress
	if err := r.actions.Update(ctx, action); err != nil {
		r.logger.Error("Failed to mark action in_progress", zap.Error(err))
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()

	inv := &tool.Invocation{
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: assistantID,
		ActionID:    action.ID,
		TurnIndex:   action.TurnIndex,
		Emit: func(chunkType string, content any) {
			emit(entity.StreamChunk{
				Type:    entity.ChunkType(chunkType),
				Content: content,
				RunID:   run.ID,
			})
		},
	}

	start := time.Now()
	result, err := func() (res *tool.Result, execErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				execErr = fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		return handler.Execute(toolCtx, call.Arguments, inv)
	}()
	duration := time.Since(start)

	var output string
	var isError bool
	switch {
	case err != nil:
		isError = true
		output = r.errorPayloadFor(call.Name, err).JSON()
		r.logger.Error("Platform tool failed",
			zap.String("tool", call.Name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	case !result.Success:
		isError = true
		msg := result.Error
		if msg == "" {
			msg = result.Output
		}
		output = (&ErrorPayload{ErrorType: "tool_error", Message: msg}).JSON()
	default:
		output = truncateOutput(result.Output, r.cfg.MaxOutputChars)
	}

	if submitErr := r.submit(ctx, run.ThreadID, assistantID, output, action, isError); submitErr != nil {
		r.logger.Error("Failed to submit tool output",
			zap.String("action_id", action.ID),
			zap.Error(submitErr),
		)
	}
}

// SubmitToolOutput records a tool result for an action: appends the
// role=tool message and completes the action. Re-submitting to a
// terminal action is a no-op.
func (r *Router) SubmitToolOutput(ctx context.Context, threadID, assistantID, content, actionID string) (*entity.Action, error) {
	action, err := r.actions.FindByID(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("load action %s: %w", actionID, err)
	}
	if action.IsTerminal() {
		return action, nil
	}
	if err := r.submit(ctx, threadID, assistantID, content, action, false); err != nil {
		return nil, err
	}
	return action, nil
}

func (r *Router) submit(ctx context.Context, threadID, assistantID, content string, action *entity.Action, isError bool) error {
	msg := &entity.Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		Role:        entity.RoleTool,
		Content:     content,
		AssistantID: assistantID,
		RunID:       action.RunID,
		ToolID:      action.ID,
		CreatedAt:   time.Now(),
	}
	if err := r.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("persist tool message: %w", err)
	}
	if r.hcache != nil {
		r.hcache.Append(ctx, threadID, CachedMessage{Role: entity.RoleTool, Content: content})
	}

	now := time.Now()
	action.Result = content
	action.IsError = isError
	action.ProcessedAt = &now
	if isError {
		action.Status = entity.ActionFailed
	} else {
		action.Status = entity.ActionCompleted
	}
	if err := r.actions.Update(ctx, action); err != nil {
		return fmt.Errorf("persist action result: %w", err)
	}
	return nil
}

// errorPayloadFor shapes an execution error into the user-visible form.
func (r *Router) errorPayloadFor(toolName string, err error) *ErrorPayload {
	p := &ErrorPayload{
		ErrorType: "tool_execution_error",
		Message:   fmt.Sprintf("%s: %v", toolName, err),
	}
	var httpErr *ToolHTTPError
	if errors.As(err, &httpErr) {
		p.ErrorType = "http_error"
		p.StatusCode = httpErr.StatusCode
		p.URL = httpErr.URL
		p.ResponseText = httpErr.Body
	}
	if r.cfg.SurfaceTraceback {
		p.Traceback = fmt.Sprintf("%+v", err)
	}
	return p
}

// ToolHTTPError carries HTTP detail from a tool's upstream failure into
// the structured error payload.
type ToolHTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *ToolHTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// truncateOutput bounds a tool result before it re-enters the context.
func truncateOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n...[truncated %d chars]", len(s)-max)
}
