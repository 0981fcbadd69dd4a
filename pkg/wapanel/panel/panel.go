package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/wapanel/pkg/wapanel/ai"
	"github.com/jholhewres/wapanel/pkg/wapanel/bot"
	"github.com/jholhewres/wapanel/pkg/wapanel/channels"
	"github.com/jholhewres/wapanel/pkg/wapanel/channels/whatsapp"
	"github.com/jholhewres/wapanel/pkg/wapanel/conversation"
	"github.com/jholhewres/wapanel/pkg/wapanel/database"
	"github.com/jholhewres/wapanel/pkg/wapanel/report"
	"github.com/jholhewres/wapanel/pkg/wapanel/webhook"
)

// replyTimeout bounds one inbound message's bot pipeline, including the
// AI call.
const replyTimeout = 30 * time.Second

// Panel owns the application's components and runs the inbound message
// dispatch loop.
type Panel struct {
	cfg    *Config
	logger *slog.Logger

	channel       *whatsapp.WhatsApp
	conversations *conversation.Store
	botConfig     *bot.ConfigStore
	responder     *bot.Responder
	aiClient      *ai.Client
	db            *database.SQLite
	forwarder     *webhook.Forwarder
	assembler     *report.Assembler

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the panel and all its components. Nothing connects or
// runs until Start.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Panel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.Open(database.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, fmt.Errorf("opening message index: %w", err)
	}

	convPersister, err := conversation.NewFilePersister(cfg.ConversationsPath())
	if err != nil {
		db.Close()
		return nil, err
	}
	conversations := conversation.NewStore(convPersister, logger)

	botPersister, err := bot.NewFileConfigPersister(cfg.BotConfigPath())
	if err != nil {
		db.Close()
		return nil, err
	}
	botConfig := bot.NewConfigStore(botPersister, logger)

	aiClient, err := ai.NewClient(ctx, cfg.AI.APIKey, cfg.AI.Model, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating AI client: %w", err)
	}

	forwarder, err := webhook.NewForwarder(cfg.WebhookConfigPath(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	channel := whatsapp.New(cfg.WhatsApp, logger)

	p := &Panel{
		cfg:           cfg,
		logger:        logger.With("component", "panel"),
		channel:       channel,
		conversations: conversations,
		botConfig:     botConfig,
		responder:     bot.NewResponder(botConfig, conversations, aiClient, logger),
		aiClient:      aiClient,
		db:            db,
		forwarder:     forwarder,
	}
	p.assembler = report.NewAssembler(db, liveSource{channel}, aiClient, cfg.Report.CustomPrompt, logger)

	return p, nil
}

// Start connects the channel and begins processing inbound messages
// and scheduled jobs.
func (p *Panel) Start(ctx context.Context) error {
	if err := p.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.dispatchLoop(runCtx)

	p.cron = cron.New()
	timeout := time.Duration(p.cfg.Conversations.TimeoutHours) * time.Hour
	if timeout <= 0 {
		timeout = conversation.DefaultSessionTimeout
	}
	if _, err := p.cron.AddFunc("@hourly", func() {
		p.conversations.SweepExpired(timeout)
	}); err != nil {
		return fmt.Errorf("scheduling conversation sweep: %w", err)
	}
	p.cron.Start()

	p.logger.Info("panel started")
	return nil
}

// Stop shuts everything down: scheduler, dispatch loop, channel, index.
func (p *Panel) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if err := p.channel.Disconnect(); err != nil {
		p.logger.Warn("channel disconnect failed", "error", err)
	}
	p.wg.Wait()
	if err := p.db.Close(); err != nil {
		p.logger.Warn("closing message index failed", "error", err)
	}
	p.logger.Info("panel stopped")
}

// dispatchLoop consumes the inbound message stream until the channel
// closes it or the context is canceled. Each message is handled in its
// own goroutine so a slow AI reply for one chat never stalls another.
func (p *Panel) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.channel.Receive():
			if !ok {
				return
			}
			p.dispatch(ctx, msg)
		}
	}
}

// dispatch hands one inbound message to its own handler goroutine,
// tracked so Stop can wait for in-flight replies.
func (p *Panel) dispatch(ctx context.Context, msg *channels.IncomingMessage) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handleInbound(ctx, msg)
	}()
}

// handleInbound indexes the message, forwards it to the webhook, and
// runs the bot pipeline.
func (p *Panel) handleInbound(ctx context.Context, msg *channels.IncomingMessage) {
	p.indexMessage(ctx, msg)

	go p.forwarder.Forward(&webhook.Event{
		Event:     "message",
		ID:        msg.ID,
		From:      msg.From,
		Name:      msg.FromName,
		ChatID:    msg.ChatID,
		IsGroup:   msg.IsGroup,
		GroupName: msg.GroupName,
		Body:      msg.Content,
		HasMedia:  msg.Media != nil,
		Type:      string(msg.Type),
		Timestamp: msg.Timestamp,
	})

	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	attachment := p.audioAttachment(replyCtx, msg)
	reply, ok := p.responder.Respond(replyCtx, msg.ChatID, msg.Content, attachment)
	if !ok {
		return
	}
	if _, err := p.channel.Send(replyCtx, msg.ChatID, reply); err != nil {
		p.logger.Error("sending bot reply failed", "chat", msg.ChatID, "error", err)
	}
}

// indexMessage upserts an inbound message into the historical store.
func (p *Panel) indexMessage(ctx context.Context, msg *channels.IncomingMessage) {
	body := msg.Content
	hasMedia := msg.Media != nil
	mediaDesc := ""
	if hasMedia {
		mediaDesc = string(msg.Type)
		if body == "" {
			body = "[" + string(msg.Type) + "]"
		}
	}

	rec := &database.MessageRecord{
		ID:               msg.ID,
		Timestamp:        msg.Timestamp.Unix(),
		Phone:            conversation.SessionID(msg.From),
		SenderName:       msg.FromName,
		GroupName:        msg.GroupName,
		Body:             body,
		HasMedia:         hasMedia,
		MediaDescription: mediaDesc,
		IsGroup:          msg.IsGroup,
	}
	if err := p.db.SaveMessage(ctx, rec); err != nil {
		p.logger.Warn("indexing message failed", "message", msg.ID, "error", err)
	}
}

// audioAttachment downloads inbound audio for the AI pipeline. Only
// audio is fetched, and only when the bot could actually use it.
func (p *Panel) audioAttachment(ctx context.Context, msg *channels.IncomingMessage) *ai.MediaAttachment {
	if msg.Media == nil || msg.Type != channels.MessageAudio {
		return nil
	}
	cfg := p.botConfig.Get()
	if !cfg.Enabled || !cfg.UseAI || !p.aiClient.Available() {
		return nil
	}

	data, mimeType, err := p.channel.DownloadMedia(ctx, msg)
	if err != nil {
		p.logger.Warn("audio download failed", "message", msg.ID, "error", err)
		return nil
	}
	return &ai.MediaAttachment{Data: data, MimeType: mimeType}
}

// SendText sends a text message through the channel.
func (p *Panel) SendText(ctx context.Context, to, text string) (*channels.SendReceipt, error) {
	if to == "" || text == "" {
		return nil, errors.New("recipient and message are required")
	}
	return p.channel.Send(ctx, to, text)
}

// SendMedia sends a media message through the channel.
func (p *Panel) SendMedia(ctx context.Context, to string, media *channels.MediaPayload, caption string) (*channels.SendReceipt, error) {
	if to == "" || media == nil || len(media.Data) == 0 {
		return nil, errors.New("recipient and media are required")
	}
	return p.channel.SendMedia(ctx, to, media, caption)
}

// Component accessors for the web layer.

func (p *Panel) Channel() *whatsapp.WhatsApp { return p.channel }

func (p *Panel) Conversations() *conversation.Store { return p.conversations }

func (p *Panel) BotConfig() *bot.ConfigStore { return p.botConfig }

func (p *Panel) Webhook() *webhook.Forwarder { return p.forwarder }

func (p *Panel) Reports() *report.Assembler { return p.assembler }

func (p *Panel) Database() *database.SQLite { return p.db }

// liveSource adapts the channel's in-memory chat registry to the report
// package, surfacing disconnection as an error so the assembler can
// fall back to the index.
type liveSource struct {
	wa *whatsapp.WhatsApp
}

func (s liveSource) ListChats(_ context.Context) ([]channels.ChatInfo, error) {
	if !s.wa.IsConnected() {
		return nil, channels.ErrChannelDisconnected
	}
	return s.wa.ListChats(), nil
}

func (s liveSource) RecentMessages(_ context.Context, chatID string, limit int) ([]channels.ChatMessage, error) {
	if !s.wa.IsConnected() {
		return nil, channels.ErrChannelDisconnected
	}
	return s.wa.RecentMessages(chatID, limit), nil
}
