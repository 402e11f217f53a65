package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var idleStatuses = []string{
	"people watching",
	"lurking",
	"thinking about snacks",
	"reading the backlog",
	"humming quietly",
}

// DiscordSessionHandler is the subset of discordgo.Session the bot uses.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a channel
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// MessageReactionAdd reacts to a message with an emoji
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error

	// ChannelTyping shows the typing indicator in a channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, options...)
	if err != nil {
		d.logger.Error("error sending message", tint.Err(err), "channel_id", channelID)
	} else {
		d.logger.Debug("sent message", "channel_id", channelID, "message_id", msg.ID)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(channelID, content, reference, options...)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"reference", reference,
		)
	} else {
		d.logger.Debug("sent message reply", "channel_id", channelID, "message_id", msg.ID)
	}
	return msg, err
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// idleMessageGenerator writes conversation starters for idle behaviors.
type idleMessageGenerator interface {
	GenerateIdleMessage(ctx context.Context, behavior IdleBehaviorType, hints IdleBehaviorHints) (string, error)
}

// Discord connects the bot to the Discord gateway. It feeds inbound
// messages to the Observer, delivers replies (Responder), and performs
// idle behaviors (IdleBehaviorPerformer).
//
// Fields:
//   - session: The Discord session handler
//   - config: Discord configuration
//   - logger: Logger for Discord-related events
//   - observer: Receives inbound message events
//   - regulator: Notified when the bot posts
//   - idleMessages: Optional. Writes conversation starters.
//   - rand: Picks emojis and statuses
//   - botID: The bot's user ID, set once the gateway is ready
//   - connected: Set while the gateway connection is up
//   - metricMessagesHandled: Count of inbound messages handed to the observer
type Discord struct {
	session      DiscordSessionHandler
	config       *DiscordConfig
	logger       *slog.Logger
	observer     *Observer
	regulator    *SelfRegulator
	idleMessages idleMessageGenerator
	rand         RandomSource

	ctx    context.Context
	botID  atomic.Value // string
	connMu sync.Mutex

	connected             atomic.Bool
	metricMessagesHandled atomic.Int64
	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64

	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, rnd RandomSource) (*Discord, error) {
	logger := newComponentLogger(config.LogLevel, "discord")
	d := &Discord{
		config: config,
		logger: logger,
		rand:   rnd,
		ctx:    context.Background(),
	}
	d.botID.Store(config.ApplicationID)

	if !config.Enabled {
		return d, nil
	}

	s, err := discordgo.New(fmt.Sprintf("Bot %s", config.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	s.StateEnabled = false
	d.session = DiscordSession{session: s, logger: logger}
	if config.httpClient != nil {
		d.session.SetHTTPClient(config.httpClient)
	}
	return d, nil
}

// BotID returns the bot's user ID.
func (d *Discord) BotID() string {
	return d.botID.Load().(string)
}

func (d *Discord) Connected() bool {
	return d.connected.Load()
}

// Connect registers gateway handlers and opens the gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.session == nil {
		return errors.New("discord is not enabled")
	}
	d.ctx = ctx

	var discordgoLevel slog.Leveler = DefaultDiscordgoLogLevel
	if lv := d.config.DiscordGoLogLevel; lv != nil {
		discordgoLevel = lv
		if err := d.session.SetLogLevel(lv.Level()); err != nil {
			d.logger.WarnContext(ctx, "error setting discordgo log level", tint.Err(err))
		}
	}
	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		tint.NewHandler(defaultLogWriter, &tint.Options{Level: discordgoLevel}),
	)

	d.session.SetIdentify(
		discordgo.Identify{
			Intents: d.config.GatewayIntents,
			Properties: discordgo.IdentifyProperties{
				OS:      "linux",
				Browser: "electricraspberry",
				Device:  "electricraspberry",
			},
		},
	)

	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handleReady),
		d.session.AddHandler(d.handleConnect),
		d.session.AddHandler(d.handleDisconnect),
		d.session.AddHandler(d.handleMessageCreate),
	)

	d.logger.InfoContext(ctx, "connecting to discord gateway")
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	return nil
}

// Close removes gateway handlers and closes the connection.
func (d *Discord) Close() error {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.session == nil {
		return nil
	}
	for _, remove := range d.discordgoRemoveHandlerFuncs {
		remove()
	}
	d.discordgoRemoveHandlerFuncs = nil
	return d.session.Close()
}

func (d *Discord) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		d.botID.Store(r.User.ID)
		if d.observer != nil {
			d.observer.SetBotID(r.User.ID)
		}
	}
	d.logger.Info("discord ready", "bot_id", d.BotID(), "guilds", len(r.Guilds))

	if d.config.CustomStatus != "" {
		if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
			d.logger.Warn("error setting custom status", tint.Err(err))
		}
	}
}

func (d *Discord) handleConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	d.connected.Store(true)
	d.metricConnects.Add(1)
	d.logger.Info("discord connected")
}

func (d *Discord) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	d.connected.Store(false)
	d.metricDisconnects.Add(1)
	d.logger.Warn("discord disconnected")
}

func (d *Discord) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	d.onMessage(d.ctx, m.Message)
}

// onMessage converts a gateway message and hands it to the observer.
// The bot's own messages and messages from other bots only count towards
// channel activity.
func (d *Discord) onMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || d.observer == nil {
		return
	}
	botID := d.BotID()
	if m.Author.ID == botID {
		return
	}

	e := NewMessageEvent(m, botID)
	if e.IsFromBot {
		if d.regulator != nil {
			d.regulator.RecordChannelMessage(e.ChannelID, false, e.Timestamp)
		}
		return
	}

	d.metricMessagesHandled.Add(1)
	log := d.logger.With("message_event", e)
	if err := d.observer.ProcessMessageEvent(WithLogger(ctx, log), e, e.ChannelID); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.ErrorContext(ctx, "error processing message event", tint.Err(err))
	}
}

// Send posts content to the channel, as a reply to replyTo if given.
func (d *Discord) Send(ctx context.Context, channelID string, content string, replyTo *MessageEvent) error {
	if d.session == nil {
		return errors.New("discord is not enabled")
	}
	content = shortenString(content, discordMaxMessageLength)

	var err error
	if replyTo != nil && !replyTo.IsDirectMessage {
		_, err = d.session.ChannelMessageSendReply(
			channelID,
			content,
			&discordgo.MessageReference{
				MessageID: replyTo.ID,
				ChannelID: replyTo.ChannelID,
				GuildID:   replyTo.GuildID,
			},
		)
	} else {
		_, err = d.session.ChannelMessageSend(channelID, content)
	}
	if err != nil {
		return err
	}
	if d.regulator != nil {
		d.regulator.RecordBotMessage(channelID)
	}
	contextLoggerOr(ctx, d.logger).DebugContext(ctx, "sent", "channel_id", channelID)
	return nil
}

func (d *Discord) Typing(channelID string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(channelID)
}

func (d *Discord) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	i := int(d.rand.Float64() * float64(len(options)))
	return options[min(i, len(options)-1)]
}

// PerformIdleBehavior carries out the behavior in the channel.
func (d *Discord) PerformIdleBehavior(
	ctx context.Context,
	channelID string,
	behavior IdleBehaviorType,
	hints IdleBehaviorHints,
) error {
	if d.session == nil {
		return errors.New("discord is not enabled")
	}
	log := contextLoggerOr(ctx, d.logger).With("behavior", behavior)

	switch behavior {
	case IdleEmojiReaction:
		if hints.LatestMessage == nil {
			log.DebugContext(ctx, "no message to react to")
			return nil
		}
		emoji := d.pick(d.config.IdleEmojis)
		if emoji == "" {
			return nil
		}
		return d.session.MessageReactionAdd(channelID, hints.LatestMessage.ID, emoji)
	case IdleStatusChange:
		return d.session.UpdateCustomStatus(d.pick(idleStatuses))
	case IdleVoicePresence:
		return d.session.UpdateCustomStatus("listening in")
	case IdleChannelObservation:
		// reading along, nothing to post
		log.DebugContext(ctx, "observing channel", "engagement", hints.Engagement)
		return nil
	case IdleOpenQuestion, IdleInterestPrompt, IdleRecallConversation:
		content := d.idleMessage(ctx, behavior, hints)
		if content == "" {
			return nil
		}
		return d.Send(ctx, channelID, content, nil)
	default:
		return fmt.Errorf("unknown idle behavior: %s", behavior)
	}
}

// idleMessage generates a conversation starter, falling back to a
// canned one if generation fails.
func (d *Discord) idleMessage(ctx context.Context, behavior IdleBehaviorType, hints IdleBehaviorHints) string {
	if d.idleMessages != nil {
		content, err := d.idleMessages.GenerateIdleMessage(ctx, behavior, hints)
		if err == nil && content != "" {
			return content
		}
		if err != nil {
			contextLoggerOr(ctx, d.logger).WarnContext(ctx, "error generating idle message", tint.Err(err))
		}
	}
	return fallbackIdleMessage(behavior, hints)
}

func fallbackIdleMessage(behavior IdleBehaviorType, hints IdleBehaviorHints) string {
	switch behavior {
	case IdleInterestPrompt:
		if len(hints.Topics) > 0 {
			return fmt.Sprintf("Has anyone been into %s lately?", hints.Topics[0])
		}
	case IdleRecallConversation:
		if len(hints.Memories) > 0 {
			return fmt.Sprintf("Still thinking about %s from earlier.", hints.Memories[0].Topic)
		}
	}
	return "What's everyone up to?"
}

// String summarizes connection state for logging.
func (d *Discord) String() string {
	return fmt.Sprintf(
		"Discord(bot_id=%s connected=%t handled=%d)",
		d.BotID(), d.Connected(), d.metricMessagesHandled.Load(),
	)
}
