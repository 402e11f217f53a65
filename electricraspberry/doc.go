// Package electricraspberry implements the engagement regulation layer of
// the ElectricRaspberry Discord bot.
//
// Every inbound Discord message is converted to a [MessageEvent] and handed
// to the [Observer], which decides whether, when and how the bot responds.
// The decision pipeline is built from a handful of cooperating parts:
//
//   - ChannelBufferManager: bounded per-channel FIFO buffers of recent events.
//   - EventPrioritizer: assigns Critical/High/Normal priority from mentions,
//     direct messages and relationship strength.
//   - RateLimiter: global cooldowns and per-channel fixed windows per operation.
//   - ConcurrencyManager: named locks (`channel:{id}`) that serialize
//     conversation processing within a channel while channels run in parallel.
//   - SelfRegulator: simulated stamina, emotion, relationship and personality
//     driven engagement policy, response delays and idle behaviors.
//   - ObserverBackground: periodic batch processing and maintenance loops.
//
// Collaborators such as the AI backend, stamina, knowledge store and the
// catch-up queue are consumed through narrow interfaces (see collaborators.go).
// Default implementations are provided: an OpenAI-backed
// [ConversationProcessor], a gorm-backed [KnowledgeStore] and [CatchupStore],
// an in-memory [StaminaTracker], and a discordgo gateway adapter.
package electricraspberry
