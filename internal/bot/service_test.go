package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/events"
	"github.com/ternarybob/ferry/internal/models"
	"github.com/ternarybob/ferry/internal/pipeline"
	"github.com/ternarybob/ferry/internal/storage/storagetest"
)

// fakeTelegram records Bot API calls and answers them all with ok=true
type fakeTelegram struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []apiCall
}

type apiCall struct {
	Method  string
	Payload map[string]interface{}
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: method, Payload: payload})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "sendMessage":
			w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
		case "getUpdates":
			w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			w.Write([]byte(`{"ok":true,"result":true}`))
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTelegram) callsFor(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, call := range f.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeTelegram) lastText(t *testing.T) string {
	t.Helper()
	sent := f.callsFor("sendMessage")
	require.NotEmpty(t, sent, "expected at least one sendMessage call")
	text, _ := sent[len(sent)-1].Payload["text"].(string)
	return text
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	requests []models.DownloadRequest
	err      error
}

func (r *recordingEnqueuer) Enqueue(req models.DownloadRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.requests = append(r.requests, req)
	return "file_new", nil
}

func (r *recordingEnqueuer) Cancel(fileID string) bool { return false }

func newTestBot(t *testing.T) (*Service, *fakeTelegram, *storagetest.Manager, *recordingEnqueuer) {
	t.Helper()

	telegram := newFakeTelegram(t)
	store := storagetest.NewManager()
	enqueuer := &recordingEnqueuer{}

	config := common.NewDefaultConfig()
	config.Bot.Token = "test-token"
	config.Bot.APIBaseURL = telegram.server.URL
	config.Bot.PollTimeout = "1s"
	config.Server.PublicBaseURL = "http://files.test"

	hub := events.NewHub(common.GetLogger())
	t.Cleanup(hub.Close)

	svc := NewService(config, store, enqueuer, hub, common.GetLogger())
	return svc, telegram, store, enqueuer
}

func newMessage(userID, chatID, messageID int64, text string) *Message {
	return &Message{
		MessageID: messageID,
		From:      &User{ID: userID, Username: "ada", FirstName: "Ada"},
		Chat:      Chat{ID: chatID},
		Text:      text,
	}
}

func TestRegisterCreatesUser(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	svc.handleMessage(ctx, newMessage(42, 42, 1, "/register"))

	user, ok := store.User(42)
	require.True(t, ok)
	assert.True(t, user.Registered)
	assert.True(t, user.Started)
	assert.Equal(t, "ada", user.Username)
	assert.Contains(t, telegram.lastText(t), "successfully registered")
}

func TestRegisterTwiceIsRejected(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)
	ctx := context.Background()

	svc.handleMessage(ctx, newMessage(42, 42, 1, "/register"))
	svc.handleMessage(ctx, newMessage(42, 42, 2, "/register"))

	assert.Contains(t, telegram.lastText(t), "already registered")
}

func TestRegisterRevivesSoftDeletedUser(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	store.SeedUser(&models.User{ID: 42, FirstName: "Ada", Registered: true, Deleted: true, DownloadCount: 9})

	svc.handleMessage(ctx, newMessage(42, 42, 1, "/register"))

	user, _ := store.User(42)
	assert.False(t, user.Deleted)
	assert.Equal(t, int64(9), user.DownloadCount, "counters survive re-registration")
	assert.Contains(t, telegram.lastText(t), "Welcome back")
}

func TestStartRequiresRegistration(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)

	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "/start"))
	assert.Contains(t, telegram.lastText(t), "/register")
}

func TestUnregisterSoftDeletes(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	store.SeedUser(&models.User{ID: 42, Registered: true})
	svc.handleMessage(ctx, newMessage(42, 42, 1, "/unregister"))

	user, _ := store.User(42)
	assert.True(t, user.Deleted)
	assert.Contains(t, telegram.lastText(t), "unregistered")

	// Soft-deleted users cannot use the bot
	svc.handleMessage(ctx, newMessage(42, 42, 2, "/me"))
	assert.Contains(t, telegram.lastText(t), "not registered")
}

func TestMeShowsUsageCounters(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)

	store.SeedUser(&models.User{
		ID: 42, FirstName: "Ada", Username: "ada",
		Registered: true, DownloadCount: 3, BytesDownloaded: 1024,
		RegisteredAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	})

	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "/me"))

	text := telegram.lastText(t)
	assert.Contains(t, text, "Downloads: 3")
	assert.Contains(t, text, "Bytes downloaded: 1024")
	assert.Contains(t, text, "2026-01-15")
}

func TestLinkEnqueuesDownload(t *testing.T) {
	svc, telegram, store, enqueuer := newTestBot(t)

	store.SeedUser(&models.User{ID: 42, Registered: true, Started: true})
	svc.handleMessage(context.Background(), newMessage(42, 77, 5, "https://filehost.example/movie.mkv"))

	require.Len(t, enqueuer.requests, 1)
	req := enqueuer.requests[0]
	assert.Equal(t, int64(42), req.UserID)
	assert.Equal(t, "https://filehost.example/movie.mkv", req.SourceRef)
	assert.Equal(t, "tg-77-5", req.RequestID)
	assert.Contains(t, telegram.lastText(t), "Download accepted")
}

func TestLinkRequiresStartedBot(t *testing.T) {
	svc, telegram, store, enqueuer := newTestBot(t)

	store.SeedUser(&models.User{ID: 42, Registered: true, Started: false})
	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "https://filehost.example/x"))

	assert.Empty(t, enqueuer.requests)
	assert.Contains(t, telegram.lastText(t), "/start")
}

func TestLinkReportsFullQueue(t *testing.T) {
	svc, telegram, store, enqueuer := newTestBot(t)

	store.SeedUser(&models.User{ID: 42, Registered: true, Started: true})
	enqueuer.err = pipeline.ErrQueueFull

	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "https://filehost.example/x"))
	assert.Contains(t, telegram.lastText(t), "queue is full")
}

func TestFilesListsWithPagination(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	store.SeedUser(&models.User{ID: 42, Registered: true, Started: true})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		record := models.NewFileRecord("file_"+string(rune('a'+i)), 42, "https://host.example/f")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 5 {
			record.Status = models.FileStatusPersisted
			record.StoragePath = "/data/f"
			record.OriginalName = "newest.mp4"
		}
		store.SeedFile(record)
	}

	svc.handleMessage(ctx, newMessage(42, 42, 1, "/files"))

	sent := telegram.callsFor("sendMessage")
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1].Payload
	text := last["text"].(string)

	assert.Contains(t, text, "page 1")
	assert.Contains(t, text, "newest.mp4")
	assert.Contains(t, text, "http://files.test/files/file_f", "persisted files include their public link")
	assert.NotNil(t, last["reply_markup"], "a full page gets a Next button")
}

func TestFilesEmpty(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)

	store.SeedUser(&models.User{ID: 42, Registered: true})
	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "/files"))
	assert.Contains(t, telegram.lastText(t), "No files found")
}

func TestCallbackPagesInPlace(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	store.SeedUser(&models.User{ID: 42, Registered: true})
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		record := models.NewFileRecord("file_"+string(rune('a'+i)), 42, "https://host.example/f")
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		store.SeedFile(record)
	}

	svc.handleCallback(ctx, &CallbackQuery{
		ID:      "cb-1",
		From:    &User{ID: 42},
		Message: &Message{MessageID: 9, Chat: Chat{ID: 42}},
		Data:    "files_1",
	})

	assert.NotEmpty(t, telegram.callsFor("answerCallbackQuery"))
	edits := telegram.callsFor("editMessageText")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Payload["text"].(string), "page 2")
	assert.Equal(t, float64(9), edits[0].Payload["message_id"])
}

func TestNotifySuccessFallsBackToText(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)

	record := models.NewFileRecord("file_ok", 42, "https://host.example/f")
	record.Status = models.FileStatusPersisted

	svc.NotifySuccess(context.Background(), 42, record, "http://files.test/files/file_ok")

	assert.Empty(t, telegram.callsFor("sendPhoto"), "no thumbnail means no photo")
	assert.Contains(t, telegram.lastText(t), "http://files.test/files/file_ok")
}

func TestNotifySuccessSendsThumbnail(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)

	record := models.NewFileRecord("file_ok", 42, "https://host.example/f")
	record.Status = models.FileStatusPersisted
	record.ThumbnailPath = "/data/images/file_ok.jpg"
	record.OriginalName = "movie.mp4"

	svc.NotifySuccess(context.Background(), 42, record, "http://files.test/files/file_ok")

	photos := telegram.callsFor("sendPhoto")
	require.Len(t, photos, 1)
	assert.Equal(t, "http://files.test/images/file_ok", photos[0].Payload["photo"])
	assert.Contains(t, photos[0].Payload["caption"], "movie.mp4")
}

func TestNotifyFailureNamesTheReason(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)
	record := models.NewFileRecord("file_bad", 42, "https://host.example/f")

	svc.NotifyFailure(context.Background(), 42, record, models.FailureFetchPermanent)
	assert.Contains(t, telegram.lastText(t), "could not be downloaded")

	svc.NotifyFailure(context.Background(), 42, record, models.FailureCancelled)
	assert.Contains(t, telegram.lastText(t), "cancelled")
}

func TestProgressEventsEditAcceptanceMessage(t *testing.T) {
	svc, telegram, store, _ := newTestBot(t)
	ctx := context.Background()

	store.SeedUser(&models.User{ID: 42, Registered: true, Started: true})
	svc.handleMessage(ctx, newMessage(42, 42, 1, "https://filehost.example/movie.mkv"))

	assert.Contains(t, telegram.lastText(t), "Download accepted")

	svc.handleEvent(ctx, events.Event{Type: events.TypeProgress, FileID: "file_new", UserID: 42, Progress: 40})
	svc.handleEvent(ctx, events.Event{Type: events.TypeProgress, FileID: "file_new", UserID: 42, Progress: 43}) // throttled
	svc.handleEvent(ctx, events.Event{Type: events.TypeStatus, FileID: "file_new", UserID: 42, Status: models.FileStatusPersisted})

	edits := telegram.callsFor("editMessageText")
	require.Len(t, edits, 2)
	assert.Contains(t, edits[0].Payload["text"], "40%")
	assert.Equal(t, "Download complete.", edits[1].Payload["text"])

	// Tracking is dropped after the terminal event
	svc.handleEvent(ctx, events.Event{Type: events.TypeProgress, FileID: "file_new", UserID: 42, Progress: 99})
	assert.Len(t, telegram.callsFor("editMessageText"), 2)
}

func TestUnknownTextGetsHelp(t *testing.T) {
	svc, telegram, _, _ := newTestBot(t)

	svc.handleMessage(context.Background(), newMessage(42, 42, 1, "hello"))
	assert.Contains(t, telegram.lastText(t), "/files")
}
