package electricraspberry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDiscordSession struct {
	mock.Mock
}

func (m *mockDiscordSession) Open() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockDiscordSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	args := m.Called(channelID, content)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func (m *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	args := m.Called(channelID, content, reference)
	msg, _ := args.Get(0).(*discordgo.Message)
	return msg, args.Error(1)
}

func (m *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	args := m.Called(channelID, messageID, emojiID)
	return args.Error(0)
}

func (m *mockDiscordSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	args := m.Called(channelID)
	return args.Error(0)
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	args := m.Called(status)
	return args.Error(0)
}

func (m *mockDiscordSession) AddHandler(handler any) func() {
	args := m.Called(handler)
	f, _ := args.Get(0).(func())
	return f
}

func (m *mockDiscordSession) SetHTTPClient(client *http.Client) {
	m.Called(client)
}

func (m *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	m.Called(i)
}

func (m *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	args := m.Called(lvl)
	return args.Error(0)
}

type mockIdleMessageGenerator struct {
	mock.Mock
}

func (m *mockIdleMessageGenerator) GenerateIdleMessage(
	ctx context.Context,
	behavior IdleBehaviorType,
	hints IdleBehaviorHints,
) (string, error) {
	args := m.Called(ctx, behavior, hints)
	return args.String(0), args.Error(1)
}

// newTestDiscord returns a Discord backed by a mock session.
func newTestDiscord(t *testing.T, rnd RandomSource) (*Discord, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultConfig().Discord
	cfg.ApplicationID = testBotID
	d, err := newDiscord(cfg, rnd)
	require.NoError(t, err)
	session := &mockDiscordSession{}
	d.session = session
	return d, session
}

func TestNewDiscord_Disabled(t *testing.T) {
	cfg := DefaultConfig().Discord
	cfg.ApplicationID = "1234"
	d, err := newDiscord(cfg, newScriptedRandom())
	require.NoError(t, err)

	assert.Nil(t, d.session)
	assert.Equal(t, "1234", d.BotID())
	assert.False(t, d.Connected())

	ctx := context.Background()
	assert.Error(t, d.Connect(ctx))
	assert.Error(t, d.Send(ctx, "c1", "hi", nil))
	assert.Error(t, d.PerformIdleBehavior(ctx, "c1", IdleStatusChange, IdleBehaviorHints{}))
	assert.NoError(t, d.Typing("c1"))
	assert.NoError(t, d.Close())
}

func TestNewDiscord_Enabled(t *testing.T) {
	cfg := DefaultConfig().Discord
	cfg.Enabled = true
	cfg.Token = "token"
	cfg.ApplicationID = "1234"
	cfg.httpClient = &http.Client{Timeout: time.Second}

	d, err := newDiscord(cfg, newScriptedRandom())
	require.NoError(t, err)
	require.NotNil(t, d.session)

	ds, ok := d.session.(DiscordSession)
	require.True(t, ok)
	assert.Same(t, cfg.httpClient, ds.session.Client)
	assert.False(t, ds.session.StateEnabled)
}

func TestDiscordSession_SetLogLevel(t *testing.T) {
	s, err := discordgo.New("Bot token")
	require.NoError(t, err)
	ds := DiscordSession{session: s, logger: slog.Default()}

	require.NoError(t, ds.SetLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogDebug, s.LogLevel)
	require.NoError(t, ds.SetLogLevel(slog.LevelError))
	assert.Equal(t, discordgo.LogError, s.LogLevel)
	assert.Error(t, ds.SetLogLevel(slog.Level(3)))
}

func TestDiscord_ConnectClose(t *testing.T) {
	d, session := newTestDiscord(t, newScriptedRandom())
	removed := 0

	session.On("SetLogLevel", DefaultDiscordgoLogLevel).Return(nil).Once()
	session.On(
		"SetIdentify",
		mock.MatchedBy(
			func(i discordgo.Identify) bool {
				return i.Intents == DefaultDiscordGatewayIntent
			},
		),
	).Once()
	session.On("AddHandler", mock.Anything).Return(func() { removed++ }).Times(4)
	session.On("Open").Return(nil).Once()
	session.On("Close").Return(nil).Once()

	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, d.Close())
	assert.Equal(t, 4, removed)
	session.AssertExpectations(t)
}

func TestDiscord_ConnectError(t *testing.T) {
	d, session := newTestDiscord(t, newScriptedRandom())
	openErr := errors.New("4004 authentication failed")

	session.On("SetLogLevel", mock.Anything).Return(nil)
	session.On("SetIdentify", mock.Anything)
	session.On("AddHandler", mock.Anything).Return(func() {})
	session.On("Open").Return(openErr)

	assert.ErrorIs(t, d.Connect(context.Background()), openErr)
}

func TestDiscord_GatewayHandlers(t *testing.T) {
	d, session := newTestDiscord(t, newScriptedRandom())
	f := newObserverFixture(t, generousLimit())
	d.observer = f.observer

	session.On("UpdateCustomStatus", DefaultDiscordCustomStatus).Return(nil).Once()
	d.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "5678"}})
	assert.Equal(t, "5678", d.BotID())
	assert.Equal(t, "5678", f.observer.BotID())
	session.AssertExpectations(t)

	d.handleConnect(nil, &discordgo.Connect{})
	assert.True(t, d.Connected())
	d.handleDisconnect(nil, &discordgo.Disconnect{})
	assert.False(t, d.Connected())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())

	// nil messages are ignored
	d.handleMessageCreate(nil, &discordgo.MessageCreate{})
	assert.Contains(t, d.String(), "bot_id=5678")
}

func TestDiscord_OnMessage(t *testing.T) {
	d, _ := newTestDiscord(t, newScriptedRandom())
	f := newObserverFixture(t, generousLimit())
	reg := newRegulatorFixture(t, nil, newScriptedRandom(), nil)
	d.observer = f.observer
	d.regulator = reg.regulator

	ctx := context.Background()
	ts := time.Now()

	// own messages are ignored entirely
	d.onMessage(ctx, &discordgo.Message{ID: "1", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: testBotID}, Timestamp: ts})
	_, tracked := reg.regulator.ChannelActivity("c1")
	assert.False(t, tracked)

	// other bots only count towards activity
	d.onMessage(ctx, &discordgo.Message{ID: "2", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: "otherbot", Bot: true}, Timestamp: ts})
	activity, tracked := reg.regulator.ChannelActivity("c1")
	require.True(t, tracked)
	assert.Equal(t, 1, activity.WindowMessageCount)
	assert.Empty(t, f.processor.Processed())

	d.onMessage(
		ctx,
		&discordgo.Message{
			ID:        "3",
			ChannelID: "c1",
			GuildID:   "g1",
			Content:   "hello <@bot>",
			Author:    &discordgo.User{ID: "alice"},
			Mentions:  []*discordgo.User{{ID: testBotID}},
			Timestamp: ts,
		},
	)
	assert.Equal(t, []string{"3"}, f.processor.Processed())
	assert.True(t, f.processor.important["3"])
	assert.Equal(t, int64(1), d.metricMessagesHandled.Load())

	// no author, or no observer
	d.onMessage(ctx, &discordgo.Message{ID: "4", ChannelID: "c1"})
	d.observer = nil
	d.onMessage(ctx, &discordgo.Message{ID: "5", ChannelID: "c1", Author: &discordgo.User{ID: "alice"}})
	assert.Equal(t, int64(1), d.metricMessagesHandled.Load())
}

func TestDiscord_Send(t *testing.T) {
	d, session := newTestDiscord(t, newScriptedRandom())
	reg := newRegulatorFixture(t, nil, newScriptedRandom(), nil)
	d.regulator = reg.regulator
	ctx := context.Background()

	replyTo := newTestEvent("c1", "alice", "question?", time.Now())
	session.On(
		"ChannelMessageSendReply",
		"c1",
		"answer",
		&discordgo.MessageReference{MessageID: replyTo.ID, ChannelID: "c1", GuildID: "g1"},
	).Return(&discordgo.Message{ID: "r1"}, nil).Once()
	require.NoError(t, d.Send(ctx, "c1", "answer", replyTo))

	activity, ok := reg.regulator.ChannelActivity("c1")
	require.True(t, ok)
	assert.Equal(t, reg.clock.Now(), activity.LastBotMessage)

	dm := newTestEvent("dm1", "alice", "psst", time.Now())
	dm.IsDirectMessage = true
	session.On("ChannelMessageSend", "dm1", "hi").Return(&discordgo.Message{ID: "r2"}, nil).Once()
	require.NoError(t, d.Send(ctx, "dm1", "hi", dm))

	sendErr := errors.New("missing access")
	session.On("ChannelMessageSend", "c2", "hello").Return(nil, sendErr).Once()
	assert.ErrorIs(t, d.Send(ctx, "c2", "hello", nil), sendErr)
	_, ok = reg.regulator.ChannelActivity("c2")
	assert.False(t, ok, "failed sends aren't recorded")

	session.AssertExpectations(t)
}

func TestDiscord_Typing(t *testing.T) {
	d, session := newTestDiscord(t, newScriptedRandom())
	session.On("ChannelTyping", "c1").Return(nil).Once()
	assert.NoError(t, d.Typing("c1"))
	session.AssertExpectations(t)
}

func TestDiscord_PerformIdleBehavior(t *testing.T) {
	ctx := context.Background()
	latest := newTestEvent("c1", "alice", "look at this", time.Now())

	t.Run(
		"emoji reaction", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom(0))
			session.On("MessageReactionAdd", "c1", latest.ID, DefaultDiscordIdleEmojis[0]).Return(nil).Once()
			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleEmojiReaction, IdleBehaviorHints{LatestMessage: latest}))
			session.AssertExpectations(t)

			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleEmojiReaction, IdleBehaviorHints{}))
			session.AssertNumberOfCalls(t, "MessageReactionAdd", 1)
		},
	)

	t.Run(
		"status change", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom(0.9999))
			session.On("UpdateCustomStatus", idleStatuses[len(idleStatuses)-1]).Return(nil).Once()
			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleStatusChange, IdleBehaviorHints{}))
			session.AssertExpectations(t)
		},
	)

	t.Run(
		"voice presence", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom())
			session.On("UpdateCustomStatus", "listening in").Return(nil).Once()
			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleVoicePresence, IdleBehaviorHints{}))
			session.AssertExpectations(t)
		},
	)

	t.Run(
		"channel observation", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom())
			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleChannelObservation, IdleBehaviorHints{}))
			assert.Empty(t, session.Calls)
		},
	)

	t.Run(
		"generated question", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom())
			gen := &mockIdleMessageGenerator{}
			d.idleMessages = gen
			hints := IdleBehaviorHints{Topics: []string{"chess"}}

			gen.On("GenerateIdleMessage", mock.Anything, IdleInterestPrompt, hints).
				Return("Anyone up for a game of chess?", nil).Once()
			session.On("ChannelMessageSend", "c1", "Anyone up for a game of chess?").
				Return(&discordgo.Message{ID: "r1"}, nil).Once()

			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleInterestPrompt, hints))
			gen.AssertExpectations(t)
			session.AssertExpectations(t)
		},
	)

	t.Run(
		"fallback question", func(t *testing.T) {
			d, session := newTestDiscord(t, newScriptedRandom())
			gen := &mockIdleMessageGenerator{}
			d.idleMessages = gen

			gen.On("GenerateIdleMessage", mock.Anything, IdleOpenQuestion, mock.Anything).
				Return("", errors.New("openai down")).Once()
			session.On("ChannelMessageSend", "c1", "What's everyone up to?").
				Return(&discordgo.Message{ID: "r1"}, nil).Once()

			require.NoError(t, d.PerformIdleBehavior(ctx, "c1", IdleOpenQuestion, IdleBehaviorHints{}))
			session.AssertExpectations(t)
		},
	)

	t.Run(
		"unknown", func(t *testing.T) {
			d, _ := newTestDiscord(t, newScriptedRandom())
			assert.Error(t, d.PerformIdleBehavior(ctx, "c1", IdleBehaviorType(99), IdleBehaviorHints{}))
		},
	)
}

func TestFallbackIdleMessage(t *testing.T) {
	testCases := []struct {
		name     string
		behavior IdleBehaviorType
		hints    IdleBehaviorHints
		expected string
	}{
		{
			name:     "interest prompt",
			behavior: IdleInterestPrompt,
			hints:    IdleBehaviorHints{Topics: []string{"gardening", "chess"}},
			expected: "Has anyone been into gardening lately?",
		},
		{
			name:     "recall conversation",
			behavior: IdleRecallConversation,
			hints:    IdleBehaviorHints{Memories: []ConversationMemory{{Topic: "pizza"}}},
			expected: "Still thinking about pizza from earlier.",
		},
		{
			name:     "interest prompt without topics",
			behavior: IdleInterestPrompt,
			expected: "What's everyone up to?",
		},
		{
			name:     "open question",
			behavior: IdleOpenQuestion,
			expected: "What's everyone up to?",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, fallbackIdleMessage(tc.behavior, tc.hints))
			},
		)
	}
}

func TestDiscord_Pick(t *testing.T) {
	d, _ := newTestDiscord(t, newScriptedRandom(0, 0.5, 0.99999))
	options := []string{"a", "b", "c"}
	assert.Equal(t, "a", d.pick(options))
	assert.Equal(t, "b", d.pick(options))
	assert.Equal(t, "c", d.pick(options))
	assert.Equal(t, "", d.pick(nil))
}
