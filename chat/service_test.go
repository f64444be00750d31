package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/llm/retrieval"
	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/memory/inmemory"
)

var alice = &auth.Session{UserID: "alice", Name: "Alice", Email: "alice@example.com"}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeProvider struct {
	name       string
	configured bool
	reply      string
	err        error

	mu       sync.Mutex
	calls    int
	messages []string
	history  [][]llm.Message
}

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Configured() bool { return p.configured }
func (p *fakeProvider) Generate(ctx context.Context, message string, history []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.messages = append(p.messages, message)
	p.history = append(p.history, history)
	return p.reply, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newRouter(t *testing.T, providers map[llm.ModelID]llm.Provider) *llm.Router {
	t.Helper()
	r, err := llm.NewRouter(llm.RouterConfig{Providers: providers, Logger: quietLogger()})
	require.NoError(t, err)
	return r
}

func newService(t *testing.T, store memory.Store, router Router) *Service {
	t.Helper()
	svc, err := NewService(Config{Store: store, Router: router, Logger: quietLogger()})
	require.NoError(t, err)
	return svc
}

// countingStore records writes so tests can assert nothing was persisted
type countingStore struct {
	memory.Store
	mu      sync.Mutex
	creates int
	adds    int
	failAdd func(role string) error
}

func (c *countingStore) CreateConversation(ctx context.Context, userID, titleHint string) (*memory.Conversation, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.Store.CreateConversation(ctx, userID, titleHint)
}

func (c *countingStore) AddMessage(ctx context.Context, id, userID, content, role, model string) (*memory.Message, error) {
	c.mu.Lock()
	c.adds++
	fail := c.failAdd
	c.mu.Unlock()
	if fail != nil {
		if err := fail(role); err != nil {
			return nil, err
		}
	}
	return c.Store.AddMessage(ctx, id, userID, content, role, model)
}

func (c *countingStore) writes() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.adds
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{Router: newRouter(t, nil)})
	assert.Error(t, err)
	_, err = NewService(Config{Store: inmemory.NewStore()})
	assert.Error(t, err)
}

func TestSendUnauthenticated(t *testing.T) {
	store := &countingStore{Store: inmemory.NewStore()}
	fast := &fakeProvider{name: "groq", configured: true, reply: "hi"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast}))

	for _, s := range []*auth.Session{nil, {UserID: ""}} {
		_, err := svc.Send(context.Background(), s, SendRequest{Message: "hello"})
		assert.ErrorIs(t, err, ErrUnauthenticated)
	}

	creates, adds := store.writes()
	assert.Zero(t, creates, "no conversation rows")
	assert.Zero(t, adds, "no message rows")
	assert.Zero(t, fast.callCount())
}

func TestSendEmptyMessage(t *testing.T) {
	store := &countingStore{Store: inmemory.NewStore()}
	fast := &fakeProvider{name: "groq", configured: true, reply: "hi"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast}))

	for _, msg := range []string{"", "   ", "\n\t "} {
		_, err := svc.Send(context.Background(), alice, SendRequest{Message: msg})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	creates, adds := store.writes()
	assert.Zero(t, creates)
	assert.Zero(t, adds)
	assert.Zero(t, fast.callCount(), "no provider invoked")
}

func TestSendUnknownModelNoProviders(t *testing.T) {
	svc := newService(t, inmemory.NewStore(), newRouter(t, nil))

	resp, err := svc.Send(context.Background(), alice, SendRequest{Message: "hello", Model: "unknown-model"})
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultModel, resp.ModelUsed)
	assert.Equal(t, llm.CannedReply("hello"), resp.Assistant.Content)
	assert.True(t, resp.Fallback)
	assert.True(t, resp.Created)
	assert.Equal(t, string(llm.DefaultModel), resp.Assistant.Model)
}

func TestSendFastProvider(t *testing.T) {
	store := inmemory.NewStore()
	fast := &fakeProvider{name: "groq", configured: true, reply: "42"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast}))

	resp, err := svc.Send(context.Background(), alice, SendRequest{Message: "  what is 6*7?  ", Model: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Assistant.Content)
	assert.Equal(t, llm.ModelFast, resp.ModelUsed)
	assert.False(t, resp.Fallback)

	assert.Equal(t, "what is 6*7?", resp.User.Content, "message is trimmed")
	assert.Equal(t, memory.RoleUser, resp.User.Role)
	assert.Empty(t, resp.User.Model)
	assert.Equal(t, memory.RoleAssistant, resp.Assistant.Role)
	assert.Equal(t, resp.ConversationID, resp.User.ConversationID)

	msgs, err := store.GetMessages(context.Background(), resp.ConversationID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "what is 6*7?", msgs[0].Content)
	assert.Equal(t, "42", msgs[1].Content)
	assert.Equal(t, "fast", msgs[1].Model)

	conv, err := store.GetConversation(context.Background(), resp.ConversationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "what is 6*7?", conv.Title)
}

func TestSendHostedProviderErrorFallsBack(t *testing.T) {
	hosted := &fakeProvider{name: "gemini", configured: true, err: llm.ParseHTTPError("gemini", 503, "overloaded")}
	svc := newService(t, inmemory.NewStore(), newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelHosted: hosted}))

	resp, err := svc.Send(context.Background(), alice, SendRequest{Message: "tell me a joke", Model: "hosted"})
	require.NoError(t, err)
	assert.Equal(t, llm.ModelHosted, resp.ModelUsed)
	assert.Equal(t, llm.CannedReply("tell me a joke"), resp.Assistant.Content)
	assert.True(t, resp.Fallback)
	assert.Equal(t, 1, hosted.callCount())
}

func TestSendPassesTrailingHistory(t *testing.T) {
	store := inmemory.NewStore()
	fast := &fakeProvider{name: "groq", configured: true, reply: "ok"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast}))
	ctx := context.Background()

	first, err := svc.Send(ctx, alice, SendRequest{Message: "m0"})
	require.NoError(t, err)
	for i := 1; i < 8; i++ {
		resp, err := svc.Send(ctx, alice, SendRequest{Message: fmt.Sprintf("m%d", i), ConversationID: first.ConversationID})
		require.NoError(t, err)
		assert.Equal(t, first.ConversationID, resp.ConversationID)
		assert.False(t, resp.Created)
	}

	require.Equal(t, 8, fast.callCount())
	assert.Empty(t, fast.history[0], "first message has no context")

	last := fast.history[7]
	require.Len(t, last, llm.MaxHistory)
	// 14 stored turns before the 8th message; the last 10 start at m2
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "m2"}, last[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "ok"}, last[9])
	assert.Equal(t, "m7", fast.messages[7], "current message is not part of history")
}

func TestSendForeignConversationStartsNew(t *testing.T) {
	store := inmemory.NewStore()
	svc := newService(t, store, newRouter(t, nil))
	ctx := context.Background()

	bobs, err := svc.Send(ctx, &auth.Session{UserID: "bob"}, SendRequest{Message: "bob's secret"})
	require.NoError(t, err)

	resp, err := svc.Send(ctx, alice, SendRequest{Message: "hi", ConversationID: bobs.ConversationID})
	require.NoError(t, err)
	assert.NotEqual(t, bobs.ConversationID, resp.ConversationID)
	assert.True(t, resp.Created)

	msgs, err := store.GetMessages(ctx, bobs.ConversationID, "bob")
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "bob's conversation untouched")

	resp, err = svc.Send(ctx, alice, SendRequest{Message: "hi", ConversationID: "no-such-id"})
	require.NoError(t, err)
	assert.True(t, resp.Created)
}

func TestSendStoreFailureKeepsUserTurn(t *testing.T) {
	boom := errors.New("disk full")
	store := &countingStore{Store: inmemory.NewStore()}
	store.failAdd = func(role string) error {
		if role == memory.RoleAssistant {
			return boom
		}
		return nil
	}
	svc := newService(t, store, newRouter(t, nil))

	_, err := svc.Send(context.Background(), alice, SendRequest{Message: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrUnauthenticated)

	sums, err := store.GetUserConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].MessageCount, "user turn is not rolled back")
	assert.Equal(t, "hello", sums[0].LastMessage)
}

func TestSendConcurrentSameConversation(t *testing.T) {
	store := inmemory.NewStore()
	fast := &fakeProvider{name: "groq", configured: true, reply: "ack"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast}))
	ctx := context.Background()

	first, err := svc.Send(ctx, alice, SendRequest{Message: "start"})
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Send(ctx, alice, SendRequest{Message: fmt.Sprintf("c%d", i), ConversationID: first.ConversationID})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := store.GetMessages(ctx, first.ConversationID, "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 2+2*n, "every turn persisted")

	users := 0
	for _, m := range msgs {
		if m.Role == memory.RoleUser {
			users++
		}
	}
	assert.Equal(t, 1+n, users)
}

type stubTitler struct {
	title        string
	err          error
	unconfigured bool

	mu    sync.Mutex
	calls int
}

func (s *stubTitler) Configured() bool { return !s.unconfigured }
func (s *stubTitler) Title(ctx context.Context, firstMessage string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.title, s.err
}

func TestSendUsesTitler(t *testing.T) {
	store := inmemory.NewStore()
	svc, err := NewService(Config{
		Store:  store,
		Router: newRouter(t, nil),
		Titler: &stubTitler{title: "Greetings"},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	resp, err := svc.Send(context.Background(), alice, SendRequest{Message: "hello there"})
	require.NoError(t, err)
	conv, err := store.GetConversation(context.Background(), resp.ConversationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", conv.Title)

	svc.titler = &stubTitler{err: llm.NewUnconfiguredError("groq")}
	resp, err = svc.Send(context.Background(), alice, SendRequest{Message: "second chat"})
	require.NoError(t, err)
	conv, err = store.GetConversation(context.Background(), resp.ConversationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "second chat", conv.Title, "titler failure falls back to the message")
}

func TestSendTitlerOnlyForFastModel(t *testing.T) {
	store := inmemory.NewStore()
	hosted := &fakeProvider{name: "gemini", configured: true, reply: "hosted reply"}
	titler := &stubTitler{title: "Generated"}
	svc, err := NewService(Config{
		Store:  store,
		Router: newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelHosted: hosted}),
		Titler: titler,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	for _, model := range []string{"hosted", "retrieval"} {
		resp, err := svc.Send(ctx, alice, SendRequest{Message: "plan a trip to Lisbon", Model: model})
		require.NoError(t, err)
		conv, err := store.GetConversation(ctx, resp.ConversationID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "plan a trip to Lisbon", conv.Title, model)
	}
	assert.Equal(t, 0, titler.calls, "titler must not run for non-fast models")

	// credentials can disappear after startup
	titler.unconfigured = true
	resp, err := svc.Send(ctx, alice, SendRequest{Message: "what is a goroutine", Model: "fast"})
	require.NoError(t, err)
	conv, err := store.GetConversation(ctx, resp.ConversationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "what is a goroutine", conv.Title)
	assert.Equal(t, 0, titler.calls)

	titler.unconfigured = false
	resp, err = svc.Send(ctx, alice, SendRequest{Message: "what is a channel", Model: "fast"})
	require.NoError(t, err)
	conv, err = store.GetConversation(ctx, resp.ConversationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Generated", conv.Title)
	assert.Equal(t, 1, titler.calls)
}

func TestSendUsesSavedDefaultModel(t *testing.T) {
	store := inmemory.NewStore()
	fast := &fakeProvider{name: "groq", configured: true, reply: "fast reply"}
	hosted := &fakeProvider{name: "gemini", configured: true, reply: "hosted reply"}
	svc := newService(t, store, newRouter(t, map[llm.ModelID]llm.Provider{llm.ModelFast: fast, llm.ModelHosted: hosted}))
	ctx := context.Background()

	model := "hosted"
	_, err := svc.UpdatePreferences(ctx, alice, memory.PreferencesUpdate{DefaultModel: &model})
	require.NoError(t, err)

	resp, err := svc.Send(ctx, alice, SendRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, llm.ModelHosted, resp.ModelUsed)
	assert.Equal(t, "hosted reply", resp.Assistant.Content)

	resp, err = svc.Send(ctx, alice, SendRequest{Message: "hi", Model: "fast"})
	require.NoError(t, err)
	assert.Equal(t, llm.ModelFast, resp.ModelUsed, "an explicit model wins over the saved one")

	// a stored value outside the closed set is still coerced by the router
	bogus := "Hosted"
	_, err = store.UpdatePreferences(ctx, "alice", memory.PreferencesUpdate{DefaultModel: &bogus})
	require.NoError(t, err)
	resp, err = svc.Send(ctx, alice, SendRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, llm.ModelFast, resp.ModelUsed)
	assert.Equal(t, "fast reply", resp.Assistant.Content)

	bob := &auth.Session{UserID: "bob"}
	resp, err = svc.Send(ctx, bob, SendRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, llm.ModelFast, resp.ModelUsed, "other users keep the default")
}

func TestPreferences(t *testing.T) {
	svc := newService(t, inmemory.NewStore(), newRouter(t, nil))
	ctx := context.Background()

	_, err := svc.Preferences(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	prefs, err := svc.Preferences(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "fast", prefs.DefaultModel)
	assert.Equal(t, memory.DefaultTheme, prefs.Theme)
	assert.Equal(t, memory.DefaultLanguage, prefs.Language)

	bad := "gpt-4"
	blank := "  "
	for _, update := range []memory.PreferencesUpdate{
		{},
		{DefaultModel: &bad},
		{Theme: &blank},
		{Language: &blank},
	} {
		_, err := svc.UpdatePreferences(ctx, alice, update)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	theme := " light "
	prefs, err = svc.UpdatePreferences(ctx, alice, memory.PreferencesUpdate{Theme: &theme})
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Theme)
	assert.Equal(t, " light ", theme, "caller's value is not modified")

	prefs, err = svc.Preferences(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Theme)
	assert.Equal(t, "fast", prefs.DefaultModel)
}

func TestCleanup(t *testing.T) {
	store := inmemory.NewStore()
	svc := newService(t, store, newRouter(t, nil))
	ctx := context.Background()

	var last string
	for i := 0; i < 3; i++ {
		resp, err := svc.Send(ctx, alice, SendRequest{Message: fmt.Sprintf("chat %d", i)})
		require.NoError(t, err)
		last = resp.ConversationID
	}

	_, err := svc.Cleanup(ctx, nil, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Cleanup(ctx, alice, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	n, err := svc.Cleanup(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sums, err := svc.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, last, sums[0].ID)
}

type stubSearcher struct {
	configured bool
	docs       []retrieval.Document
	err        error
	gotLimit   int
}

func (s *stubSearcher) Configured() bool { return s.configured }
func (s *stubSearcher) SearchDocuments(ctx context.Context, query string, limit int) ([]retrieval.Document, error) {
	s.gotLimit = limit
	return s.docs, s.err
}

func TestSearch(t *testing.T) {
	searcher := &stubSearcher{configured: true, docs: []retrieval.Document{{ID: "d1", Content: "goroutines", Score: 0.9}}}
	svc, err := NewService(Config{Store: inmemory.NewStore(), Router: newRouter(t, nil), Searcher: searcher, Logger: quietLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Search(ctx, nil, "go", 0)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Search(ctx, alice, "   ", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	docs, err := svc.Search(ctx, alice, "goroutines", 100)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, MaxSearchResults, searcher.gotLimit)

	searcher.err = llm.ParseHTTPError("rag", 502, "")
	_, err = svc.Search(ctx, alice, "goroutines", 3)
	assert.Error(t, err)

	searcher.configured = false
	_, err = svc.Search(ctx, alice, "goroutines", 3)
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	bare := newService(t, inmemory.NewStore(), newRouter(t, nil))
	_, err = bare.Search(ctx, alice, "goroutines", 3)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestHistoryConversationRenameDelete(t *testing.T) {
	store := inmemory.NewStore()
	svc := newService(t, store, newRouter(t, nil))
	ctx := context.Background()

	_, err := svc.History(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	a, err := svc.Send(ctx, alice, SendRequest{Message: "first"})
	require.NoError(t, err)
	b, err := svc.Send(ctx, alice, SendRequest{Message: "second"})
	require.NoError(t, err)

	sums, err := svc.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, b.ConversationID, sums[0].ID)
	assert.Equal(t, 2, sums[0].MessageCount)

	thread, err := svc.Conversation(ctx, alice, a.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "first", thread.Conversation.Title)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "first", thread.Messages[0].Content)

	_, err = svc.Conversation(ctx, &auth.Session{UserID: "mallory"}, a.ConversationID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Rename(ctx, alice, a.ConversationID, "  "), ErrInvalidRequest)
	require.NoError(t, svc.Rename(ctx, alice, a.ConversationID, " Renamed "))
	thread, err = svc.Conversation(ctx, alice, a.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", thread.Conversation.Title)
	assert.ErrorIs(t, svc.Rename(ctx, alice, "missing", "x"), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, alice, a.ConversationID))
	assert.ErrorIs(t, svc.Delete(ctx, alice, a.ConversationID), ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, nil, b.ConversationID), ErrUnauthenticated)

	sums, err = svc.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, b.ConversationID, sums[0].ID)
}
