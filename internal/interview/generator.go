package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/pkg/provider/llm"
)

// TurnGenerator produces the interviewer's side of the conversation. All
// three methods absorb provider failures into deterministic fallback text;
// they never return an error, so the state machine never branches on
// generator failure modes.
type TurnGenerator interface {
	// NextTurn returns the interviewer's next message given the transcript
	// so far. At the start of a session this is the opening question.
	NextTurn(ctx context.Context, transcript []Turn) string

	// Closing returns a short farewell message for a candidate-initiated end.
	Closing(ctx context.Context, transcript []Turn) string

	// Feedback returns an overall review of the interview built from the
	// collected candidate info and question/answer pairs.
	Feedback(ctx context.Context, info map[string]string, qaPairs []QAPair) string
}

// Fallback texts used when the provider fails or returns empty content.
const (
	emptyTurnFallback     = "Thank you for that response. Let me ask you another question based on what you've shared."
	emptyFeedbackFallback = "Thank you for your time. We appreciate your participation in this interview."
	errorFeedbackFallback = "Thank you for completing the interview. Your responses have been recorded and will be reviewed by our team."
)

// turnFallbacks are rotated deterministically when the provider errors on a
// normal turn, so repeated failures don't repeat the exact same sentence.
var turnFallbacks = []string{
	"Thank you for sharing that. What would you say is the most challenging aspect?",
	"I appreciate your response. Could you elaborate briefly?",
	"That's interesting. What factors would you consider?",
}

// Compile-time interface assertion.
var _ TurnGenerator = (*Generator)(nil)

// Generator implements [TurnGenerator] on top of an [llm.Provider].
// It is safe for concurrent use.
type Generator struct {
	provider     llm.Provider
	providerName string
	log          *slog.Logger
	metrics      *observe.Metrics

	mu          sync.Mutex
	fallbackIdx int
}

// GeneratorOption is a functional option for configuring a [Generator].
type GeneratorOption func(*Generator)

// WithLogger sets the logger used for provider failures. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// WithProviderName sets the label used for provider request metrics (e.g.,
// "gemini"). Defaults to "llm".
func WithProviderName(name string) GeneratorOption {
	return func(g *Generator) {
		if name != "" {
			g.providerName = name
		}
	}
}

// WithMetrics sets the metrics instance turn latency, provider requests, and
// fallback counts are recorded on. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GeneratorOption {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGenerator creates a Generator backed by provider. provider must be
// non-nil.
func NewGenerator(provider llm.Provider, opts ...GeneratorOption) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("interview: provider must not be nil")
	}
	g := &Generator{
		provider:     provider,
		providerName: "llm",
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// NextTurn implements [TurnGenerator].
func (g *Generator) NextTurn(ctx context.Context, transcript []Turn) string {
	resp, err := g.complete(ctx, nextTurnPrompt(transcript), g.metrics.TurnDuration)
	if err != nil {
		g.log.Warn("turn generation failed, using fallback", "model", g.provider.Model(), "err", err)
		g.recordFallback(ctx, "turn")
		return g.nextFallback()
	}
	if text := responseText(resp); text != "" {
		return text
	}
	return emptyTurnFallback
}

// Closing implements [TurnGenerator].
func (g *Generator) Closing(ctx context.Context, transcript []Turn) string {
	resp, err := g.complete(ctx, closingPrompt(transcript), g.metrics.TurnDuration)
	if err != nil {
		g.log.Warn("closing generation failed, using fallback", "model", g.provider.Model(), "err", err)
		g.recordFallback(ctx, "closing")
		return g.nextFallback()
	}
	if text := responseText(resp); text != "" {
		return text
	}
	return emptyTurnFallback
}

// Feedback implements [TurnGenerator].
func (g *Generator) Feedback(ctx context.Context, info map[string]string, qaPairs []QAPair) string {
	resp, err := g.complete(ctx, feedbackPrompt(info, qaPairs), g.metrics.FeedbackDuration)
	if err != nil {
		g.log.Warn("feedback generation failed, using fallback", "model", g.provider.Model(), "err", err)
		g.recordFallback(ctx, "feedback")
		return errorFeedbackFallback
	}
	if text := responseText(resp); text != "" {
		return text
	}
	return emptyFeedbackFallback
}

// complete sends a single-message prompt to the provider, timing the round
// trip on duration and counting the request outcome.
func (g *Generator) complete(ctx context.Context, prompt string, duration metric.Float64Histogram) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: RoleUser, Content: prompt}},
	})
	duration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "error")
		g.metrics.RecordProviderError(ctx, g.providerName, "llm")
		return nil, err
	}
	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "ok")
	return resp, nil
}

// recordFallback counts one canned response served in place of a generated
// one at the given stage.
func (g *Generator) recordFallback(ctx context.Context, stage string) {
	g.metrics.GeneratorFallbacks.Add(ctx, 1, metric.WithAttributes(observe.Attr("stage", stage)))
}

// responseText returns the trimmed content of a completion, tolerating a nil
// response.
func responseText(resp *llm.CompletionResponse) string {
	if resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// nextFallback returns the next canned turn response, rotating through
// turnFallbacks deterministically.
func (g *Generator) nextFallback() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	text := turnFallbacks[g.fallbackIdx%len(turnFallbacks)]
	g.fallbackIdx++
	return text
}

// ---- prompt construction ----

// transcriptContext renders the transcript as labelled lines for inclusion
// in a prompt.
func transcriptContext(transcript []Turn) string {
	var b strings.Builder
	for _, t := range transcript {
		switch t.Role {
		case RoleSystem:
			b.WriteString("System Instructions: ")
		case RoleUser:
			b.WriteString("Candidate: ")
		case RoleAssistant:
			b.WriteString("Interviewer: ")
		}
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func nextTurnPrompt(transcript []Turn) string {
	return fmt.Sprintf(`You are conducting a technical interview. Here's the conversation so far:

%s

IMPORTANT INSTRUCTIONS:
1. Analyze the candidate's previous responses to ask relevant follow-up questions
2. If this is the beginning, ask for introduction and applied role
3. Build upon their technical skills, experience, and previous answers
4. Ask only ONE question at a time
5. Provide brief, constructive feedback on their previous answer before asking the next question (1-2 sentences only)
6. Make it conversational and natural
7. Continue until the candidate asks to stop/end the interview
8. KEEP ALL QUESTIONS AND FEEDBACK CONCISE - maximum 2 sentences each
9. Avoid long explanations and detailed examples

Current conversation flow:
`, transcriptContext(transcript))
}

func closingPrompt(transcript []Turn) string {
	return fmt.Sprintf(`The candidate has decided to end the interview. Please provide a brief polite closing message thanking them for their time.

Previous conversation:
%s

Interviewer:`, transcriptContext(transcript))
}

func feedbackPrompt(info map[string]string, qaPairs []QAPair) string {
	infoJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		infoJSON = []byte("{}")
	}

	var qa strings.Builder
	for _, pair := range qaPairs {
		fmt.Fprintf(&qa, "Q: %s\nA: %s\n\n", pair.Question, pair.Answer)
	}

	return fmt.Sprintf(`Based on the following technical interview conversation, provide brief overall feedback for the candidate.

Candidate Information:
%s

Interview Conversation Summary:
%s
Please provide brief structured feedback covering:
1. Technical Knowledge & Skills
2. Problem-Solving Approach
3. Communication Skills
4. Key Strengths
5. Areas for Improvement

Make the feedback constructive and professional but VERY CONCISE (maximum 100 words).`, infoJSON, qa.String())
}

// systemPrompt is the interview-instructions template appended as the single
// system turn at session start.
func systemPrompt(position, difficulty string) string {
	return fmt.Sprintf(`You are an expert technical interviewer conducting an interview for a %s position.

CRITICAL GUIDELINES:
1. ALWAYS start with asking for the candidate's introduction and which role they have applied for
2. There is NO fixed number of questions - continue until the candidate asks to stop
3. Each question should build upon the previous responses - make it conversational and contextual
4. After the introduction question, ask technical questions based on:
   - Their mentioned skills and experience
   - The role they applied for
   - Their previous answers
5. Ask one question at a time and wait for their response
6. Provide brief, constructive feedback after each answer (1-2 sentences only)
7. Questions should be %s level and CONCISE
8. Cover topics like: programming concepts, algorithms, data structures, system design, problem-solving
9. Make the interview flow naturally like a real conversation
10. When the candidate says they want to stop or end the interview, provide brief overall feedback
11. KEEP QUESTIONS AND FEEDBACK BRIEF AND TO THE POINT - maximum 2 sentences each
12. Avoid long explanations and detailed examples

Remember: Always personalize questions based on what the candidate has told you about themselves.
The interview continues until the candidate explicitly asks to stop.`, position, difficulty)
}
