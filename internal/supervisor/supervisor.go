// Package supervisor implements the routing layer between inbound messages
// and the composed specialist agents.
//
// A [Supervisor] runs one conversation turn at a time. The model reads the
// processing envelope, consults its utility tools (datetime, memory, the
// local language and speech tools), and either answers directly or hands off
// to a specialist agent through a synthesized transfer_to_<agent> tool that
// carries explicit task instructions. Each handoff runs the target agent in
// a bounded sub-loop with its own system message and tool set; only the
// agent's closing answer is folded back into the supervisor transcript, as a
// named assistant message. The run ends when the supervisor produces a plain
// message, which is parsed into a structured [Reply]; when the parse fails,
// the output assembler recovers the user-facing text from the transcript.
//
// Supervisors are built once at boot from the composed agent definitions and
// the hardened tool registry, and are safe for concurrent use: Run keeps all
// per-message state on the stack.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyio/parley/internal/agent"
	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/internal/mcp/tools/clock"
	"github.com/parleyio/parley/internal/mcp/tools/lingua"
	"github.com/parleyio/parley/internal/mcp/tools/memorytool"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// supervisorName tags the supervisor's own assistant messages in the
// transcript so the output assembler can tell them apart from agent answers.
const supervisorName = "supervisor"

// Turn caps. A supervisor turn is one completion of the routing model; an
// agent turn is one completion inside a handoff sub-loop. The caps bound the
// cost of a runaway tool-calling conversation without being tight enough to
// cut off a legitimate multi-handoff run.
const (
	defaultMaxSupervisorTurns = 12
	defaultMaxAgentTurns      = 8
)

// supervisorToolNames are the utility tools offered directly to the
// supervisor node. Everything else in the registry is reachable only through
// an agent.
var supervisorToolNames = map[string]struct{}{
	clock.Name:      {},
	memorytool.Name: {},
}

// localToolPrefix matches the in-process language and speech tools; the
// routing prompt tells the supervisor to call those directly rather than
// delegating translation to agents.
const localToolPrefix = lingua.SourceServer + "_"

// supervisorTool reports whether a registry tool belongs in the supervisor's
// direct tool set.
func supervisorTool(name string) bool {
	if _, ok := supervisorToolNames[name]; ok {
		return true
	}
	return strings.HasPrefix(name, localToolPrefix)
}

// Result is the outcome of one supervisor run.
type Result struct {
	// Reply is the structured reply parsed from the supervisor's final
	// message. Only meaningful when Structured is true.
	Reply Reply

	// Structured reports whether the final message parsed as a [Reply].
	// Unstructured runs never pass the worker's grounded-memory gate.
	Structured bool

	// Text is the user-facing reply text: Reply.ReplyText when Structured,
	// otherwise the transcript-assembled fallback. May be empty.
	Text string

	// Messages is the supervisor-level transcript of the run. Agent
	// sub-loop internals are not included; each handoff contributes its
	// tool message and the agent's closing answer.
	Messages []llm.Message

	// TaskInstructions lists the non-empty handoff instructions issued
	// during the run, in order.
	TaskInstructions []string
}

// agentRuntime is one specialist agent, resolved against the tool registry.
type agentRuntime struct {
	def      agent.Definition
	byName   map[string]tools.Tool
	toolDefs []llm.ToolDefinition
}

// Supervisor routes inbound messages across the composed agents. Construct
// with [New]; the zero value is not usable.
type Supervisor struct {
	model  llm.Provider
	logger *slog.Logger

	systemPrompt       string
	supervisorToolDefs []llm.ToolDefinition
	supervisorByName   map[string]tools.Tool
	agents             map[string]*agentRuntime

	maxSupervisorTurns int
	maxAgentTurns      int
}

// Option configures a [Supervisor] during construction.
type Option func(*Supervisor)

// WithLogger sets the logger used for routing and handoff events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxSupervisorTurns caps the number of routing-model completions per
// run. The default is 12.
func WithMaxSupervisorTurns(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxSupervisorTurns = n
		}
	}
}

// WithMaxAgentTurns caps the number of completions inside one handoff
// sub-loop. The default is 8.
func WithMaxAgentTurns(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxAgentTurns = n
		}
	}
}

// New builds a Supervisor from the composed agent definitions and the
// hardened tool registry.
//
// Every definition becomes one agent runtime plus one transfer_to_<agent>
// tool. Tool names a definition references but the registry does not carry
// are skipped with a warning; the agent keeps its remaining tools. At least
// one agent definition is required.
func New(model llm.Provider, defs agent.Definitions, registry []tools.Tool, opts ...Option) (*Supervisor, error) {
	if model == nil {
		return nil, fmt.Errorf("supervisor: model must not be nil")
	}
	if len(defs.Agents) == 0 {
		return nil, fmt.Errorf("supervisor: no agent definitions")
	}

	s := &Supervisor{
		model:              model,
		logger:             slog.Default(),
		maxSupervisorTurns: defaultMaxSupervisorTurns,
		maxAgentTurns:      defaultMaxAgentTurns,
	}
	for _, opt := range opts {
		opt(s)
	}

	byName := make(map[string]tools.Tool, len(registry))
	for _, t := range registry {
		byName[t.Definition.Name] = t
	}

	// Utility tools first, in registry order, then one handoff per agent —
	// the order the roster prompt describes them in.
	s.supervisorByName = make(map[string]tools.Tool)
	for _, t := range registry {
		if !supervisorTool(t.Definition.Name) {
			continue
		}
		s.supervisorByName[t.Definition.Name] = t
		s.supervisorToolDefs = append(s.supervisorToolDefs, t.Definition)
	}

	s.agents = make(map[string]*agentRuntime, len(defs.Agents))
	for _, def := range defs.Agents {
		key := agent.NormalizeName(def.Name)
		if _, dup := s.agents[key]; dup {
			s.logger.Warn("duplicate agent name, keeping the first", "agent", def.Name)
			continue
		}

		rt := &agentRuntime{def: def, byName: make(map[string]tools.Tool, len(def.Tools))}
		for _, name := range def.Tools {
			t, ok := byName[name]
			if !ok {
				s.logger.Warn("agent references unknown tool", "agent", def.Name, "tool", name)
				continue
			}
			rt.byName[name] = t
			rt.toolDefs = append(rt.toolDefs, t.Definition)
		}
		rt.toolDefs = append(rt.toolDefs, transferBackTool)

		s.agents[key] = rt
		s.supervisorToolDefs = append(s.supervisorToolDefs, newHandoffTool(def.Name))
	}

	s.systemPrompt = buildSystemPrompt(defs)

	s.logger.Info("supervisor assembled",
		"agents", len(s.agents),
		"supervisor_tools", len(s.supervisorToolDefs))
	return s, nil
}

// Run processes one inbound message. The input is the supervisor-facing
// envelope text (INPUT_ENVELOPE_JSON prefix plus JSON) or, for non-envelope
// callers, plain user text.
//
// Run returns an error only for transport-level failures — model completions
// and tool executions that fail outright. Those leave the inbound stream
// entry unacknowledged so the message is redelivered. Everything the model
// can repair itself (unknown tools, malformed handoffs, unstructured output)
// degrades within the run instead.
func (s *Supervisor) Run(ctx context.Context, input string) (*Result, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}
	var taskInstructions []string

	for turn := 0; turn < s.maxSupervisorTurns; turn++ {
		resp, err := s.model.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: s.systemPrompt,
			Messages:     messages,
			Tools:        s.supervisorToolDefs,
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: completion: %w", err)
		}
		if resp == nil {
			return nil, fmt.Errorf("supervisor: completion returned no response")
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Name:      supervisorName,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return s.finalize(messages, resp.Content, taskInstructions), nil
		}

		for _, call := range resp.ToolCalls {
			if !strings.HasPrefix(call.Name, handoffPrefix) {
				out, err := s.callTool(ctx, s.supervisorByName, call)
				if err != nil {
					return nil, err
				}
				messages = append(messages, toolMessage(call, out))
				continue
			}

			// Handoff: run the target agent and fold its answer back in.
			target := strings.TrimPrefix(call.Name, handoffPrefix)
			rt, ok := s.agents[target]
			if !ok {
				s.logger.Warn("handoff to unknown agent", "tool", call.Name)
				messages = append(messages, toolMessage(call, fmt.Sprintf("No agent named %q is available.", target)))
				continue
			}

			instructions := parseHandoffArgs(s.logger, call.Arguments)
			if instructions != "" {
				taskInstructions = append(taskInstructions, instructions)
			}
			s.logger.Info("handoff", "agent", rt.def.Name, "instructions_chars", len(instructions))
			messages = append(messages, toolMessage(call, handoffMessage(rt.def.Name, instructions)))

			answer, err := s.runAgent(ctx, rt, messages)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Name: rt.def.Name, Content: answer})
		}
	}

	s.logger.Warn("supervisor turn limit reached", "turns", s.maxSupervisorTurns)
	return s.finalize(messages, "", taskInstructions), nil
}

// runAgent executes one handoff sub-loop. The agent sees the conversation so
// far (including the handoff instructions) under its own system message and
// tool set, and runs until it produces a plain answer, calls transfer back,
// or hits the turn cap.
func (s *Supervisor) runAgent(ctx context.Context, rt *agentRuntime, parent []llm.Message) (string, error) {
	msgs := make([]llm.Message, len(parent))
	copy(msgs, parent)

	for turn := 0; turn < s.maxAgentTurns; turn++ {
		resp, err := s.model.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: rt.def.SystemMessage,
			Messages:     msgs,
			Tools:        rt.toolDefs,
		})
		if err != nil {
			return "", fmt.Errorf("supervisor: agent %s: completion: %w", rt.def.Name, err)
		}
		if resp == nil {
			return "", fmt.Errorf("supervisor: agent %s: completion returned no response", rt.def.Name)
		}

		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), nil
		}

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Name:      rt.def.Name,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if call.Name == transferBackToolName {
				msgs = append(msgs, toolMessage(call, transferBackMessage))
				return strings.TrimSpace(resp.Content), nil
			}
			out, err := s.callTool(ctx, rt.byName, call)
			if err != nil {
				return "", err
			}
			msgs = append(msgs, toolMessage(call, out))
		}
	}

	s.logger.Warn("agent turn limit reached", "agent", rt.def.Name, "turns", s.maxAgentTurns)
	return "", nil
}

// callTool executes one model-requested tool call against a registry.
//
// A name the registry does not carry is a model mistake: it is answered with
// a corrective tool message so the model can recover. A handler error is a
// transport failure and is returned as a Go error — the hardening layer has
// already converted everything model-repairable into result payloads.
func (s *Supervisor) callTool(ctx context.Context, registry map[string]tools.Tool, call llm.ToolCall) (string, error) {
	t, ok := registry[call.Name]
	if !ok {
		s.logger.Warn("model called unknown tool", "tool", call.Name)
		return fmt.Sprintf("tool %q is not available", call.Name), nil
	}
	out, err := t.Handler(ctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("supervisor: tool %s: %w", call.Name, err)
	}
	return out, nil
}

// finalize builds the run result from the finished transcript. content is
// the supervisor's final plain message, or "" when the run ended on the turn
// cap.
func (s *Supervisor) finalize(messages []llm.Message, content string, taskInstructions []string) *Result {
	res := &Result{Messages: messages, TaskInstructions: taskInstructions}

	if reply, ok := parseReply(content); ok {
		res.Reply = reply
		res.Structured = true
		res.Text = reply.ReplyText
		return res
	}

	if strings.TrimSpace(content) != "" {
		s.logger.Warn("unstructured supervisor reply", "chars", len(content))
	}
	res.Reply = Reply{Actions: []string{}}
	res.Text = assembleReplyText(messages)
	return res
}

// toolMessage builds the tool-role transcript entry for one call result.
func toolMessage(call llm.ToolCall, content string) llm.Message {
	return llm.Message{Role: llm.RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content}
}
