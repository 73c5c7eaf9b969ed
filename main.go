package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"karmicbot/pkg/cache"
	"karmicbot/pkg/config"
	"karmicbot/pkg/karma/authors"
	"karmicbot/pkg/karma/engine"
	"karmicbot/pkg/karma/gate"
	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/moderation"
	"karmicbot/pkg/karma/observer"
	"karmicbot/pkg/karma/percentile"
	"karmicbot/pkg/karma/pipeline"
	"karmicbot/pkg/karma/ratelimit"
	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
	"karmicbot/pkg/karma/undo"
	"karmicbot/pkg/surreal"
)

// channelRegistry remembers, per guild, the channel a reaction-triggered
// event was last observed on, since a "chat" here (a Discord guild) posts
// notifications to whichever channel the reacted-to message lives in.
type channelRegistry struct {
	mu      sync.RWMutex
	byGuild map[int64]string
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{byGuild: map[int64]string{}}
}

func (r *channelRegistry) remember(guildExternalID int64, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byGuild[guildExternalID] = channelID
}

func (r *channelRegistry) channelOf(guildExternalID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byGuild[guildExternalID]
}

func main() {
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		log.Fatal("Missing required environment variable: DISCORD_TOKEN")
	}

	surrealHost := os.Getenv("SURREAL_DB_HOST")
	surrealUser := os.Getenv("SURREAL_DB_USER")
	surrealPass := os.Getenv("SURREAL_DB_PASS")
	if surrealHost == "" {
		surrealHost = cfg.Database.Host
	}
	if surrealUser == "" {
		log.Fatal("Missing required environment variable: SURREAL_DB_USER")
	}
	if surrealPass == "" {
		log.Fatal("Missing required environment variable: SURREAL_DB_PASS")
	}

	log.Printf("Connecting to SurrealDB at %s (NS: %s, DB: %s)", surrealHost, cfg.Database.Namespace, cfg.Database.Database)
	surrealClient, err := surreal.NewClient(surrealHost, surrealUser, surrealPass, cfg.Database.Namespace, cfg.Database.Database)
	if err != nil {
		log.Fatalf("Failed to connect to SurrealDB: %v", err)
	}
	defer surrealClient.Close()

	karmaStore, err := store.NewSurrealStore(surrealClient)
	if err != nil {
		log.Fatalf("Failed to initialize karma store: %v", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.Redis.URL
	}
	redisCache, err := cache.NewRedisCache(redisURL, cfg.Redis.Prefix)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()
	log.Println("Redis cache connected")

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Fatalf("Error creating Discord session: %v", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentMessageContent

	channels := newChannelRegistry()
	discordTransport := transport.NewDiscordTransport(dg, channels.channelOf)

	authorRegistry := authors.New(karmaStore, cfg.AuthorRetention())
	percentileService := percentile.New(karmaStore)
	membershipGate := gate.New(karmaStore, discordTransport)
	rateLimiter := ratelimit.New(
		karmaStore,
		toRatelimitLimits(cfg.Karma.RateLimitsPerTarget),
		toRatelimitLimits(cfg.Karma.RateLimitsGlobal),
		redisCache,
	)
	karmaEngine := engine.New(karmaStore, engine.Policy{
		CanBeBot:            cfg.Karma.CanBeBot,
		EnforceSubZeroGuard: cfg.Karma.EnforceSubZeroGuard,
	})
	undoManager := undo.New(redisCache, karmaStore, discordTransport, cfg.TimeToCancel())
	msgObserver := observer.New(karmaStore, authorRegistry)
	modService := moderation.New(karmaStore, discordTransport, undoManager)
	_ = modService // exercised by the (out-of-scope-here) moderator command surface

	reactionPipeline := pipeline.New(
		karmaStore,
		authorRegistry,
		percentileService,
		membershipGate,
		rateLimiter,
		karmaEngine,
		discordTransport,
		undoManager,
		pipeline.Settings{
			RequiredPercentile:           cfg.Karma.RequiredPercentile,
			AutoRestrictionBase:          cfg.AutoRestrictionBase(),
			AutoRestrictionBackoffFactor: cfg.AutoRestriction.BackoffFactor,
			TimeToCancel:                 cfg.TimeToCancel(),
			EnginePolicy: engine.Policy{
				CanBeBot:            cfg.Karma.CanBeBot,
				EnforceSubZeroGuard: cfg.Karma.EnforceSubZeroGuard,
			},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		guildID, err := snowflakeToInt64(m.GuildID)
		if err != nil {
			return
		}
		channels.remember(guildID, m.ChannelID)
		messageID, err := snowflakeToInt64(m.ID)
		if err != nil {
			return
		}
		authorID, err := snowflakeToInt64(m.Author.ID)
		if err != nil {
			return
		}
		msgObserver.OnMessage(ctx, model.MessageSeen{
			ChatExternalID: guildID,
			ChatType:       "supergroup",
			MessageID:      messageID,
			FromExternalID: authorID,
			Date:           m.Timestamp,
		})
	})

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
			return
		}
		handleReaction(ctx, reactionPipeline, channels, r.MessageReaction, []model.Reaction{{Token: r.Emoji.Name}}, nil)
	})

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
		handleReaction(ctx, reactionPipeline, channels, r.MessageReaction, nil, []model.Reaction{{Token: r.Emoji.Name}})
	})

	dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		handleCancelInteraction(ctx, s, i, undoManager)
	})

	if err := dg.Open(); err != nil {
		log.Fatalf("Error opening Discord connection: %v", err)
	}
	defer dg.Close()

	cleanupInterval := cfg.AuthorCleanupInterval()
	if cleanupInterval <= 0 {
		cleanupInterval = authors.DefaultCleanupInterval
	}
	go authorRegistry.CleanupLoop(ctx, cleanupInterval)

	log.Println("karmicbot is now running. Press CTRL-C to exit.")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
}

func handleReaction(
	ctx context.Context,
	p *pipeline.Pipeline,
	channels *channelRegistry,
	ref *discordgo.MessageReaction,
	added, removed []model.Reaction,
) {
	if ref.GuildID == "" {
		return // reactions in DMs are not group-like; the pipeline would reject them anyway
	}
	guildID, err := snowflakeToInt64(ref.GuildID)
	if err != nil {
		return
	}
	channels.remember(guildID, ref.ChannelID)
	messageID, err := snowflakeToInt64(ref.MessageID)
	if err != nil {
		return
	}
	reactorID, err := snowflakeToInt64(ref.UserID)
	if err != nil {
		return
	}

	p.Process(ctx, model.ReactionUpdate{
		ChatExternalID:    guildID,
		ChatType:          "supergroup",
		MessageID:         messageID,
		ReactorExternalID: reactorID,
		NewReactions:      added,
		OldReactions:      removed,
		Date:              time.Now(),
	})
}

// cancelButtonPrefix matches the CustomID prefix the Discord transport
// renders its cancel button with (transport/discord.go).
const cancelButtonPrefix = string(model.CancelKarma) + ":"

// handleCancelInteraction consumes the "cancel" button on a karma
// notification, resolving the clicking user's external ID and handing the
// embedded token to the undo manager.
func handleCancelInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, undoManager *undo.Manager) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	token, ok := strings.CutPrefix(customID, cancelButtonPrefix)
	if !ok {
		return
	}

	var user *discordgo.User
	if i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		user = i.User
	}
	if user == nil {
		return
	}
	userExternalID, err := snowflakeToInt64(user.ID)
	if err != nil {
		return
	}

	var content string
	switch err := undoManager.Cancel(ctx, token, userExternalID); {
	case err == nil:
		content = "Cancelled."
	case errors.Is(err, undo.ErrUnauthorized):
		content = "Only the original reactor can cancel this."
	case errors.Is(err, undo.ErrExpiredOrUsed):
		content = "This cancel control has expired or was already used."
	default:
		log.Printf("[interaction] cancel failed: %v", err)
		content = "Something went wrong cancelling that."
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		log.Printf("[interaction] respond: %v", err)
	}
}

func snowflakeToInt64(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}

func toRatelimitLimits(rl []config.RateLimit) []ratelimit.Limit {
	out := make([]ratelimit.Limit, 0, len(rl))
	for _, r := range rl {
		out = append(out, ratelimit.Limit{Rate: r.Rate, Window: r.Window()})
	}
	return out
}
