package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/events"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/ternarybob/ferry/internal/pipeline"
)

// pageSize is the number of files shown per /files page
const pageSize = 5

// Service runs the Telegram transport: it long-polls for updates,
// dispatches commands, turns posted links into download requests and
// delivers job outcomes back to users.
type Service struct {
	config   *common.Config
	client   *Client
	storage  interfaces.StorageManager
	enqueuer interfaces.Enqueuer
	hub      *events.Hub
	logger   arbor.ILogger

	pollTimeout time.Duration

	// progress messages being edited in place, keyed by file id
	mu       sync.Mutex
	tracking map[string]*progressTarget

	wg          sync.WaitGroup
	cancel      context.CancelFunc
	unsubscribe func()
}

// progressTarget remembers the chat message a job's progress is edited into
type progressTarget struct {
	chatID      int64
	messageID   int64
	lastPercent int
	lastEdit    time.Time
}

// NewService creates the bot transport
func NewService(config *common.Config, storage interfaces.StorageManager, enqueuer interfaces.Enqueuer, hub *events.Hub, logger arbor.ILogger) *Service {
	pollTimeout := common.Duration(config.Bot.PollTimeout, 30*time.Second)

	return &Service{
		config:      config,
		client:      NewClient(config.Bot.APIBaseURL, config.Bot.Token, pollTimeout),
		storage:     storage,
		enqueuer:    enqueuer,
		hub:         hub,
		logger:      logger,
		pollTimeout: pollTimeout,
		tracking:    make(map[string]*progressTarget),
	}
}

// Start launches the update polling loop and the progress event consumer
func (s *Service) Start(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.pollLoop(pollCtx)

	if s.hub != nil {
		sub, unsubscribe := s.hub.Subscribe(64)
		s.unsubscribe = unsubscribe
		s.wg.Add(1)
		go s.eventLoop(pollCtx, sub)
	}

	s.logger.Info().Msg("Bot transport started")
}

// Stop halts polling and waits for in-flight update handling
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Bot transport stopped")
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := s.client.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("getUpdates failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("error", fmt.Sprintf("%v", r)).Msg("Panic handling update")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		s.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		s.handleMessage(ctx, update.Message)
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *Message) {
	text := strings.TrimSpace(msg.Text)

	switch {
	case strings.HasPrefix(text, "/start"):
		s.cmdStart(ctx, msg)
	case strings.HasPrefix(text, "/register"):
		s.cmdRegister(ctx, msg)
	case strings.HasPrefix(text, "/me"):
		s.cmdMe(ctx, msg)
	case strings.HasPrefix(text, "/unregister"):
		s.cmdUnregister(ctx, msg)
	case strings.HasPrefix(text, "/stop"):
		s.cmdStop(ctx, msg)
	case strings.HasPrefix(text, "/files"):
		s.cmdFiles(ctx, msg, 0, 0)
	case strings.HasPrefix(text, "http://"), strings.HasPrefix(text, "https://"):
		s.handleLink(ctx, msg, text)
	default:
		s.reply(ctx, msg.Chat.ID, "Send me a file link, or use /files to browse your downloads.")
	}
}

func (s *Service) cmdStart(ctx context.Context, msg *Message) {
	userID := msg.From.ID

	err := s.storage.UserStorage().SetUserStarted(ctx, userID, true)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.reply(ctx, msg.Chat.ID, "Welcome! Use /register to sign up before sending links.")
		return
	}
	if err != nil {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}

	s.reply(ctx, msg.Chat.ID, "Bot started. Send me a link to begin downloading.")
}

func (s *Service) cmdRegister(ctx context.Context, msg *Message) {
	userID := msg.From.ID

	existing, err := s.storage.UserStorage().GetUser(ctx, userID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}

	if existing != nil {
		if existing.Deleted {
			// Soft-deleted user coming back; counters survive
			if err := s.storage.UserStorage().SetUserDeleted(ctx, userID, false); err != nil {
				s.replyStoreError(ctx, msg.Chat.ID, err)
				return
			}
			s.reply(ctx, msg.Chat.ID, fmt.Sprintf("Welcome back, %s! You have been re-registered.", existing.DisplayName()))
			return
		}
		s.reply(ctx, msg.Chat.ID, "You are already registered!")
		return
	}

	user := &models.User{
		ID:           userID,
		Username:     msg.From.Username,
		FirstName:    msg.From.FirstName,
		LastName:     msg.From.LastName,
		Registered:   true,
		Started:      true,
		RegisteredAt: time.Now().UTC(),
		LastActiveAt: time.Now().UTC(),
	}
	if err := s.storage.UserStorage().CreateUser(ctx, user); err != nil {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}

	s.logger.Info().Int64("user_id", userID).Msg("User registered")
	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("Welcome, %s! You have been successfully registered.\nSend me a link to start downloading.", user.DisplayName()))
}

func (s *Service) cmdMe(ctx context.Context, msg *Message) {
	user, ok := s.activeUser(ctx, msg)
	if !ok {
		return
	}

	s.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"Name: %s\nUsername: %s\nDownloads: %d\nBytes downloaded: %d\nRegistered: %s",
		strings.TrimSpace(user.FirstName+" "+user.LastName),
		user.Username,
		user.DownloadCount,
		user.BytesDownloaded,
		user.RegisteredAt.Format("2006-01-02"),
	))
}

func (s *Service) cmdUnregister(ctx context.Context, msg *Message) {
	err := s.storage.UserStorage().SetUserDeleted(ctx, msg.From.ID, true)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.reply(ctx, msg.Chat.ID, "You are not registered yet.")
		return
	}
	if err != nil {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}

	s.logger.Info().Int64("user_id", msg.From.ID).Msg("User unregistered")
	s.reply(ctx, msg.Chat.ID, "You have been successfully unregistered.")
}

func (s *Service) cmdStop(ctx context.Context, msg *Message) {
	err := s.storage.UserStorage().SetUserStarted(ctx, msg.From.ID, false)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}
	s.reply(ctx, msg.Chat.ID, "Bot stopped. Use /start to start the bot again.")
}

// cmdFiles lists the user's downloads, five per page, with inline
// Previous/Next buttons. editMessageID is non-zero when paging in place
// from a callback.
func (s *Service) cmdFiles(ctx context.Context, msg *Message, page int, editMessageID int64) {
	user, ok := s.activeUser(ctx, msg)
	if !ok {
		return
	}

	records, err := s.storage.FileStorage().ListFiles(ctx, user.ID, page, pageSize)
	if err != nil {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return
	}
	if len(records) == 0 && page == 0 {
		s.reply(ctx, msg.Chat.ID, "No files found.")
		return
	}
	if len(records) == 0 {
		s.reply(ctx, msg.Chat.ID, "Invalid page requested.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your files (page %d):\n\n", page+1)
	for _, record := range records {
		name := record.OriginalName
		if name == "" {
			name = record.ID
		}
		fmt.Fprintf(&b, "%s — %s\n", name, record.Status)
		if record.Status == models.FileStatusPersisted {
			fmt.Fprintf(&b, "%s\n", s.publicURL(record.ID))
		}
		b.WriteString("\n")
	}

	var buttons []InlineKeyboardButton
	if page > 0 {
		buttons = append(buttons, InlineKeyboardButton{Text: "Previous", CallbackData: fmt.Sprintf("files_%d", page-1)})
	}
	if len(records) == pageSize {
		buttons = append(buttons, InlineKeyboardButton{Text: "Next", CallbackData: fmt.Sprintf("files_%d", page+1)})
	}

	var markup *InlineKeyboardMarkup
	if len(buttons) > 0 {
		markup = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{buttons}}
	}

	if editMessageID != 0 {
		if err := s.client.EditMessageText(ctx, msg.Chat.ID, editMessageID, b.String(), markup); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to edit files page")
		}
		return
	}
	if _, err := s.client.SendMessage(ctx, msg.Chat.ID, b.String(), markup); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send files page")
	}
}

// handleLink turns a posted URL into a download request
func (s *Service) handleLink(ctx context.Context, msg *Message, link string) {
	user, ok := s.activeUser(ctx, msg)
	if !ok {
		return
	}
	if !user.Started {
		s.reply(ctx, msg.Chat.ID, "Please use /start to start the bot.")
		return
	}

	fileID, err := s.enqueuer.Enqueue(models.DownloadRequest{
		UserID:    user.ID,
		SourceRef: link,
		RequestID: fmt.Sprintf("tg-%d-%d", msg.Chat.ID, msg.MessageID),
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			s.reply(ctx, msg.Chat.ID, "The download queue is full right now, please try again in a few minutes.")
			return
		}
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to enqueue download")
		s.reply(ctx, msg.Chat.ID, "Error: failed to accept your download request.")
		return
	}

	sent, err := s.client.SendMessage(ctx, msg.Chat.ID, "Download accepted, starting...", nil)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to send acceptance message")
		return
	}

	// Progress events for this job edit the acceptance message in place
	s.mu.Lock()
	s.tracking[fileID] = &progressTarget{chatID: msg.Chat.ID, messageID: sent.MessageID, lastPercent: -1}
	s.mu.Unlock()
}

// eventLoop consumes pipeline events and edits tracked progress messages.
// Edits are throttled so a fast download does not hammer the Bot API.
func (s *Service) eventLoop(ctx context.Context, sub <-chan events.Event) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			s.handleEvent(ctx, evt)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, evt events.Event) {
	s.mu.Lock()
	target, ok := s.tracking[evt.FileID]
	s.mu.Unlock()
	if !ok {
		return
	}

	switch evt.Type {
	case events.TypeProgress:
		now := time.Now()
		if evt.Progress < 100 && evt.Progress-target.lastPercent < 10 && now.Sub(target.lastEdit) < 3*time.Second {
			return
		}
		if evt.Progress == target.lastPercent {
			return
		}
		target.lastPercent = evt.Progress
		target.lastEdit = now
		text := fmt.Sprintf("Downloading... %d%%", evt.Progress)
		if err := s.client.EditMessageText(ctx, target.chatID, target.messageID, text, nil); err != nil {
			s.logger.Debug().Err(err).Str("file_id", evt.FileID).Msg("Failed to edit progress message")
		}

	case events.TypeStatus:
		switch evt.Status {
		case models.FileStatusProcessing:
			s.client.EditMessageText(ctx, target.chatID, target.messageID, "Processing...", nil)
		case models.FileStatusPersisted, models.FileStatusFailed:
			// The notifier sends the terminal message; just settle the
			// progress line and stop tracking
			text := "Download complete."
			if evt.Status == models.FileStatusFailed {
				text = "Download failed."
			}
			s.client.EditMessageText(ctx, target.chatID, target.messageID, text, nil)
			s.mu.Lock()
			delete(s.tracking, evt.FileID)
			s.mu.Unlock()
		}
	}
}

func (s *Service) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if err := s.client.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to answer callback query")
	}

	if cb.Message == nil || cb.From == nil {
		return
	}

	if pageStr, ok := strings.CutPrefix(cb.Data, "files_"); ok {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 0 {
			return
		}
		// Rebuild a message-shaped context for the shared listing path
		msg := &Message{From: cb.From, Chat: cb.Message.Chat}
		s.cmdFiles(ctx, msg, page, cb.Message.MessageID)
	}
}

// activeUser loads the sender and replies with registration guidance when
// they are missing or soft-deleted
func (s *Service) activeUser(ctx context.Context, msg *Message) (*models.User, bool) {
	user, err := s.storage.UserStorage().GetUser(ctx, msg.From.ID)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.reply(ctx, msg.Chat.ID, "You are not registered. Use /register to sign up.")
		return nil, false
	}
	if err != nil {
		s.replyStoreError(ctx, msg.Chat.ID, err)
		return nil, false
	}
	if user.Deleted {
		s.reply(ctx, msg.Chat.ID, "You are not registered. Use /register to sign up.")
		return nil, false
	}
	return user, true
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.client.SendMessage(ctx, chatID, text, nil); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (s *Service) replyStoreError(ctx context.Context, chatID int64, err error) {
	s.logger.Error().Err(err).Msg("Storage error handling bot command")
	s.reply(ctx, chatID, "Error: the service is temporarily unavailable, please try again later.")
}

func (s *Service) publicURL(fileID string) string {
	return s.config.Server.PublicBaseURL + "/files/" + fileID
}

// NotifySuccess implements interfaces.Notifier
func (s *Service) NotifySuccess(ctx context.Context, userID int64, record *models.FileRecord, publicURL string) {
	name := record.OriginalName
	if name == "" {
		name = record.ID
	}

	if record.ThumbnailPath != "" {
		caption := fmt.Sprintf("%s is ready:\n%s", name, publicURL)
		if err := s.client.SendPhoto(ctx, userID, s.config.Server.PublicBaseURL+"/images/"+record.ID, caption); err == nil {
			return
		}
		// Fall through to a plain message when the photo send fails
	}

	s.reply(ctx, userID, fmt.Sprintf("Your file has been downloaded and is available here: %s", publicURL))
}

// NotifyFailure implements interfaces.Notifier
func (s *Service) NotifyFailure(ctx context.Context, userID int64, record *models.FileRecord, kind models.FailureKind) {
	var reason string
	switch kind {
	case models.FailureFetchPermanent:
		reason = "the link could not be downloaded"
	case models.FailureProcessing:
		reason = "the file could not be processed"
	case models.FailureStoreUnavailable:
		reason = "the service could not record the download"
	case models.FailureCancelled:
		reason = "the download was cancelled"
	default:
		reason = "an unexpected error occurred"
	}

	s.reply(ctx, userID, fmt.Sprintf("Download failed: %s.", reason))
}
