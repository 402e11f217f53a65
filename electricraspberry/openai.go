package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	openaiRoleSystem = openai.ChatMessageRoleSystem
	openaiRoleUser   = openai.ChatMessageRoleUser

	interactionStrengthDelta          = 0.02
	importantInteractionStrengthDelta = 0.03
	replyJoyNudge                     = 0.05
	memorySummaryLength               = 200
	historyMessageLimit               = 20
)

var errEmptyCompletion = errors.New("empty completion")

// OpenAIClient is the subset of the go-openai client used for replies.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Responder delivers the bot's messages to a channel.
type Responder interface {
	Send(ctx context.Context, channelID string, content string, replyTo *MessageEvent) error
	Typing(channelID string) error
}

// interactionRecorder persists the effects of a reply on the bot's
// relationships and memory.
type interactionRecorder interface {
	RecordInteraction(ctx context.Context, userID string, delta float64) (*UserRelationship, error)
	RememberConversation(ctx context.Context, channelID, userID, topic, summary string) error
}

type emotionNudger interface {
	Nudge(e Emotion, delta float64)
}

// OpenAIProcessor is a ConversationProcessor that generates replies with
// OpenAI chat completions.
//
// Fields:
//   - client: OpenAI client
//   - config: OpenAI configuration
//   - requestLimiter: Limits OpenAI requests per second
//   - regulator: Decides whether and when to reply
//   - buffers: Source of recent channel history
//   - stamina: Charged for each reply
//   - staminaCost: Stamina consumed per reply
//   - personality: Traits described in the system prompt
//   - recorder: Optional. Records relationship and memory updates.
//   - emotion: Optional. Nudged after each reply.
//   - responder: Delivers replies
//   - botID: Returns the bot's user ID
type OpenAIProcessor struct {
	client         OpenAIClient
	config         *OpenAIConfig
	requestLimiter *rate.Limiter
	regulator      *SelfRegulator
	buffers        *ChannelBufferManager
	stamina        StaminaService
	staminaCost    float64
	personality    PersonalityService
	recorder       interactionRecorder
	emotion        emotionNudger
	responder      Responder
	botID          func() string
	logger         *slog.Logger

	// sleep waits for the response delay. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newOpenAIClient(config *OpenAIConfig, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

func newOpenAIProcessor(
	client OpenAIClient,
	config *OpenAIConfig,
	staminaCost float64,
) *OpenAIProcessor {
	return &OpenAIProcessor{
		client:         client,
		config:         config,
		staminaCost:    staminaCost,
		requestLimiter: rate.NewLimiter(rate.Limit(config.MaxRequestsPerSecond), 1),
		logger:         newComponentLogger(config.LogLevel, "openai"),
		botID:          func() string { return "" },
		sleep:          sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProcessMessage replies to the event if the SelfRegulator decides to
// engage. Important events are always replied to.
func (p *OpenAIProcessor) ProcessMessage(
	ctx context.Context,
	e *MessageEvent,
	channelID string,
	isImportant bool,
) error {
	log := contextLoggerOr(ctx, p.logger)
	botID := p.botID()

	history := p.buffers.PeekEvents(channelID)
	ec := p.regulator.BuildEngagementContext(ctx, channelID, history, botID)

	if engage := p.regulator.ShouldEngage(ec); !engage && !isImportant {
		log.DebugContext(ctx, "not engaging", "engagement", ec)
		return nil
	}

	delay := p.regulator.GetResponseDelay(ec)
	if err := p.responder.Typing(channelID); err != nil {
		log.WarnContext(ctx, "error sending typing indicator", tint.Err(err))
	}
	if err := p.sleep(ctx, delay); err != nil {
		return err
	}

	reply, err := p.complete(ctx, p.conversationMessages(ec, history, e, botID))
	if err != nil {
		return err
	}

	if err = p.responder.Send(ctx, channelID, reply, e); err != nil {
		return fmt.Errorf("error sending reply: %w", err)
	}
	log.InfoContext(ctx, "replied", "delay", delay, "important", isImportant)

	if p.stamina != nil {
		p.stamina.ConsumeStamina(p.staminaCost)
	}
	if p.emotion != nil {
		p.emotion.Nudge(EmotionJoy, replyJoyNudge)
	}
	if p.recorder != nil && e.AuthorID != "" {
		delta := interactionStrengthDelta
		if isImportant {
			delta = importantInteractionStrengthDelta
		}
		if _, err = p.recorder.RecordInteraction(ctx, e.AuthorID, delta); err != nil {
			log.WarnContext(ctx, "error recording interaction", tint.Err(err))
		}
		if topic := extractTopic(e.Content); topic != "" {
			err = p.recorder.RememberConversation(
				ctx, channelID, e.AuthorID, topic, shortenString(reply, memorySummaryLength),
			)
			if err != nil {
				log.WarnContext(ctx, "error saving conversation memory", tint.Err(err))
			}
		}
	}
	return nil
}

// complete requests a chat completion, returning the first choice.
func (p *OpenAIProcessor) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	if err := p.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for openai request limiter: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     p.config.Model,
		Messages:  messages,
		MaxTokens: p.config.MaxTokens,
	}
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(reqCtx, req)
	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	p.logger.DebugContext(
		ctx,
		"chat completion",
		"elapsed", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errEmptyCompletion
	}
	return reply, nil
}

func (p *OpenAIProcessor) systemPrompt(ec EngagementContext) string {
	var b strings.Builder
	b.WriteString(p.config.SystemPrompt)

	traits := DefaultPersonalityTraits()
	if p.personality != nil {
		traits = p.personality.GetCurrentTraits()
	}
	fmt.Fprintf(
		&b,
		"\n\nPersonality (0-1): extraversion %.1f, reserve %.1f, curiosity %.1f, playfulness %.1f.",
		traits.Extraversion, traits.Reserve, traits.Curiosity, traits.Playfulness,
	)
	if emotion, intensity := ec.EmotionalState.Dominant(); intensity > 0.3 {
		fmt.Fprintf(&b, "\nCurrent mood: %s.", emotion)
	}
	if ec.CurrentStamina < 30 {
		b.WriteString("\nYou're tired, so keep it brief.")
	}
	return b.String()
}

// conversationMessages builds the prompt from the channel's recent
// history, ending with the event being replied to.
func (p *OpenAIProcessor) conversationMessages(
	ec EngagementContext,
	history []*MessageEvent,
	e *MessageEvent,
	botID string,
) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openaiRoleSystem, Content: p.systemPrompt(ec)},
	}

	if len(history) > historyMessageLimit {
		history = history[len(history)-historyMessageLimit:]
	}
	for _, h := range history {
		if h.ID == e.ID || h.AuthorID == botID {
			continue
		}
		messages = append(messages, userChatMessage(h))
	}
	return append(messages, userChatMessage(e))
}

func userChatMessage(e *MessageEvent) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    openaiRoleUser,
		Name:    openaiName(e.AuthorID),
		Content: e.Content,
	}
}

// openaiName sanitizes a user ID for the message name field, which only
// allows letters, digits, underscores and dashes.
func openaiName(s string) string {
	name := strings.Map(
		func(r rune) rune {
			if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, s,
	)
	return truncate(name, 64)
}

// GenerateIdleMessage writes a short conversation starter for an idle
// behavior.
func (p *OpenAIProcessor) GenerateIdleMessage(
	ctx context.Context,
	behavior IdleBehaviorType,
	hints IdleBehaviorHints,
) (string, error) {
	var instruction string
	switch behavior {
	case IdleInterestPrompt:
		instruction = "Ask the channel a casual question about one of these interests: " +
			strings.Join(hints.Topics, ", ")
	case IdleRecallConversation:
		var topics []string
		for _, m := range hints.Memories {
			topics = append(topics, m.Topic)
		}
		instruction = "Casually bring back up an earlier conversation about: " + strings.Join(topics, ", ")
	default:
		instruction = "Ask the channel a light, open-ended question to get a conversation going."
	}

	return p.complete(
		ctx,
		[]openai.ChatCompletionMessage{
			{Role: openaiRoleSystem, Content: p.systemPrompt(hints.Engagement)},
			{Role: openaiRoleUser, Content: instruction + "\nReply with the message only, one or two sentences."},
		},
	)
}

// extractTopic picks the longest plain word in the content as a rough
// topic label.
func extractTopic(content string) string {
	var topic string
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "<") || strings.Contains(word, "://") {
			continue
		}
		word = strings.TrimFunc(
			word, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			},
		)
		if len([]rune(word)) < 5 {
			continue
		}
		if len([]rune(word)) > len([]rune(topic)) {
			topic = word
		}
	}
	return strings.ToLower(topic)
}
