package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"relay-bot/metrics"
	"relay-bot/storage"
)

const (
	testChannelID = int64(-1001111111111)
	testGroupID   = int64(-1002222222222)
)

// Mock implementations for testing

type reactionKey struct {
	user int64
	msg  int
	typ  string
}

type mockStore struct {
	reactions map[reactionKey]bool
	links     []storage.Linkage
	emoji     map[int]storage.EmojiAssignment

	inserts  int
	err      error
	emojiErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		reactions: make(map[reactionKey]bool),
		emoji:     make(map[int]storage.EmojiAssignment),
	}
}

func (m *mockStore) HasReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.reactions[reactionKey{userID, messageID, reactionType}], nil
}

func (m *mockStore) InsertReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error) {
	k := reactionKey{userID, messageID, reactionType}
	if m.reactions[k] {
		return false, nil
	}
	m.reactions[k] = true
	m.inserts++
	return true, nil
}

func (m *mockStore) CountReactions(ctx context.Context, messageID int, reactionType string) (int, error) {
	n := 0
	for k := range m.reactions {
		if k.msg == messageID && k.typ == reactionType {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) InsertLinkage(ctx context.Context, channelMessageID, threadMessageID int) error {
	for _, l := range m.links {
		if l.ChannelMessageID == channelMessageID || l.ThreadMessageID == threadMessageID {
			return storage.ErrDuplicateLinkage
		}
	}
	m.links = append(m.links, storage.Linkage{ChannelMessageID: channelMessageID, ThreadMessageID: threadMessageID})
	m.inserts++
	return nil
}

func (m *mockStore) ChannelMessageID(ctx context.Context, threadMessageID int) (int, bool, error) {
	for _, l := range m.links {
		if l.ThreadMessageID == threadMessageID {
			return l.ChannelMessageID, true, nil
		}
	}
	return 0, false, nil
}

func (m *mockStore) ThreadMessageID(ctx context.Context, channelMessageID int) (int, bool, error) {
	for _, l := range m.links {
		if l.ChannelMessageID == channelMessageID {
			return l.ThreadMessageID, true, nil
		}
	}
	return 0, false, nil
}

func (m *mockStore) CommentCount(ctx context.Context, channelMessageID int) (int, error) {
	for _, l := range m.links {
		if l.ChannelMessageID == channelMessageID {
			return l.CommentCount, nil
		}
	}
	return 0, nil
}

func (m *mockStore) IncrementCommentCount(ctx context.Context, threadMessageID int) (bool, error) {
	for i := range m.links {
		if m.links[i].ThreadMessageID == threadMessageID {
			m.links[i].CommentCount++
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) InsertEmojiAssignment(ctx context.Context, channelMessageID int, first, second string) (bool, error) {
	if m.emojiErr != nil {
		return false, m.emojiErr
	}
	if _, ok := m.emoji[channelMessageID]; ok {
		return false, nil
	}
	m.emoji[channelMessageID] = storage.EmojiAssignment{ChannelMessageID: channelMessageID, First: first, Second: second}
	m.inserts++
	return true, nil
}

func (m *mockStore) EmojiAssignment(ctx context.Context, channelMessageID int) (storage.EmojiAssignment, bool, error) {
	a, ok := m.emoji[channelMessageID]
	return a, ok, nil
}

type editedKeyboard struct {
	chatID    int64
	messageID int
	kb        Keyboard
}

type answeredClick struct {
	id    string
	text  string
	alert bool
}

type mockTransport struct {
	edits   []editedKeyboard
	answers []answeredClick
	editErr error
}

func (m *mockTransport) EditKeyboard(ctx context.Context, chatID int64, messageID int, kb Keyboard) error {
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, editedKeyboard{chatID, messageID, kb})
	return nil
}

func (m *mockTransport) AnswerClick(ctx context.Context, clickID, text string, alert bool) error {
	m.answers = append(m.answers, answeredClick{clickID, text, alert})
	return nil
}

func (m *mockTransport) lastEdit(t *testing.T) editedKeyboard {
	t.Helper()
	if len(m.edits) == 0 {
		t.Fatal("no keyboard edits")
	}
	return m.edits[len(m.edits)-1]
}

func newTestRouter(t *testing.T, store Store, transport Transport) *Router {
	t.Helper()
	cfg := Config{
		ChannelID: testChannelID,
		GroupID:   testGroupID,
		Notices: Notices{
			InvalidReaction: "Invalid reaction",
			AlreadyReacted:  "already reacted",
		},
	}
	return NewRouter(cfg, store, FixedPicker{First: "🔥", Second: "💀"}, transport, slogt.New(t))
}

func forwardedPost(channelMsg, groupMsg int) ForwardedChannelPost {
	return ForwardedChannelPost{
		ChatID:             testGroupID,
		SenderChatID:       testChannelID,
		IsAutomaticForward: true,
		MessageID:          groupMsg,
		ChannelMessageID:   channelMsg,
	}
}

// Tests

func TestHandleForwardedPost(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}

	thread, ok, _ := store.ThreadMessageID(ctx, 100)
	if !ok || thread != 500 {
		t.Errorf("linkage = (%d, %v), want (500, true)", thread, ok)
	}
	if a := store.emoji[100]; a.First != "🔥" || a.Second != "💀" {
		t.Errorf("emoji assignment = %+v, want 🔥/💀", a)
	}

	// Keyboard goes to the original channel post, not the group copy
	edit := transport.lastEdit(t)
	if edit.chatID != testChannelID || edit.messageID != 100 {
		t.Errorf("edited chat %d message %d, want chat %d message 100", edit.chatID, edit.messageID, testChannelID)
	}
	want := Keyboard{Buttons: []Button{
		{Text: "🔥", CallbackData: "hotdog"},
		{Text: "💀", CallbackData: "drunk"},
		{Text: "💬 (0)", URL: "https://t.me/c/2222222222/500?thread=500"},
	}}
	if diff := cmp.Diff(want, edit.kb); diff != "" {
		t.Errorf("keyboard mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleForwardedPostIgnored(t *testing.T) {
	tests := []struct {
		name string
		ev   ForwardedChannelPost
	}{
		{"WrongGroup", ForwardedChannelPost{ChatID: 1, SenderChatID: testChannelID, IsAutomaticForward: true, MessageID: 500, ChannelMessageID: 100}},
		{"WrongChannel", ForwardedChannelPost{ChatID: testGroupID, SenderChatID: 2, IsAutomaticForward: true, MessageID: 500, ChannelMessageID: 100}},
		{"ManualForward", ForwardedChannelPost{ChatID: testGroupID, SenderChatID: testChannelID, MessageID: 500, ChannelMessageID: 100}},
		{"NoOrigin", ForwardedChannelPost{ChatID: testGroupID, SenderChatID: testChannelID, IsAutomaticForward: true, MessageID: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			transport := &mockTransport{}
			r := newTestRouter(t, store, transport)

			if err := r.HandleForwardedPost(context.Background(), tt.ev); err != nil {
				t.Fatalf("HandleForwardedPost failed: %v", err)
			}
			if store.inserts != 0 {
				t.Errorf("store writes = %d, want 0", store.inserts)
			}
			if len(transport.edits) != 0 {
				t.Errorf("keyboard edits = %d, want 0", len(transport.edits))
			}
		})
	}
}

func TestHandleForwardedPostTwice(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.EventCount(EventForwardedPost, metrics.OutcomeDuplicate))

	for i := 0; i < 2; i++ {
		if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
			t.Fatalf("HandleForwardedPost #%d failed: %v", i+1, err)
		}
	}

	if len(store.links) != 1 {
		t.Errorf("linkages = %d, want 1", len(store.links))
	}
	if len(transport.edits) != 2 {
		t.Errorf("keyboard edits = %d, want 2", len(transport.edits))
	}
	if got := testutil.ToFloat64(metrics.EventCount(EventForwardedPost, metrics.OutcomeDuplicate)); got != before+1 {
		t.Errorf("duplicate counter = %v, want %v", got, before+1)
	}
	if a := store.emoji[100]; a.First != "🔥" || a.Second != "💀" {
		t.Errorf("emoji assignment = %+v, want the first pair kept", a)
	}
}

func TestHandleForwardedPostEmojiStoreFails(t *testing.T) {
	store := newMockStore()
	store.emojiErr = errors.New("no such column: second_reaction")
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
			t.Fatalf("HandleForwardedPost #%d failed: %v", i+1, err)
		}
	}

	if len(store.links) != 1 {
		t.Errorf("linkages = %d, want 1", len(store.links))
	}
	if len(transport.edits) != 2 {
		t.Errorf("keyboard edits = %d, want 2", len(transport.edits))
	}
	last := transport.lastEdit(t)
	if last.messageID != 100 {
		t.Errorf("edited message = %d, want 100", last.messageID)
	}
	if got := last.kb.Buttons[0].Text; got != DefaultEmoji.First {
		t.Errorf("first button = %q, want %q", got, DefaultEmoji.First)
	}
}

func TestHandleForwardedPostRedeliveryRepairsPush(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{editErr: errors.New("telegram: Too Many Requests")}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}
	transport.editErr = nil
	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("redelivered HandleForwardedPost failed: %v", err)
	}

	if len(transport.edits) != 1 {
		t.Fatalf("keyboard edits = %d, want 1", len(transport.edits))
	}
	last := transport.lastEdit(t)
	if last.messageID != 100 {
		t.Errorf("edited message = %d, want 100", last.messageID)
	}
	if got := last.kb.Buttons[0].Text; got != "🔥" {
		t.Errorf("first button = %q, want 🔥", got)
	}
}

func TestHandleGroupReply(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}

	const replies = 5
	for i := 0; i < replies; i++ {
		ev := GroupReply{ChatID: testGroupID, ThreadID: 500, MessageID: 501 + i}
		if err := r.HandleGroupReply(ctx, ev); err != nil {
			t.Fatalf("HandleGroupReply failed: %v", err)
		}
	}

	count, _ := store.CommentCount(ctx, 100)
	if count != replies {
		t.Errorf("comment count = %d, want %d", count, replies)
	}

	edit := transport.lastEdit(t)
	if edit.messageID != 100 {
		t.Errorf("edited message %d, want 100", edit.messageID)
	}
	if got := edit.kb.Buttons[2].Text; got != "💬 (5)" {
		t.Errorf("comments label = %q, want %q", got, "💬 (5)")
	}
}

func TestHandleGroupReplyUnlinkedThread(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}
	edits := len(transport.edits)

	for _, ev := range []GroupReply{
		{ChatID: testGroupID, ThreadID: 777, MessageID: 778},
		{ChatID: testGroupID, ThreadID: 0, MessageID: 779},
		{ChatID: 1, ThreadID: 500, MessageID: 780},
	} {
		if err := r.HandleGroupReply(ctx, ev); err != nil {
			t.Fatalf("HandleGroupReply(%+v) failed: %v", ev, err)
		}
	}

	if count, _ := store.CommentCount(ctx, 100); count != 0 {
		t.Errorf("comment count = %d, want 0", count)
	}
	if len(transport.edits) != edits {
		t.Errorf("keyboard edits = %d, want %d", len(transport.edits), edits)
	}
}

func TestHandleReactionClick(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}

	click := ReactionClick{ID: "q1", UserID: 7, MessageID: 100, Data: "hotdog"}
	if err := r.HandleReactionClick(ctx, click); err != nil {
		t.Fatalf("HandleReactionClick failed: %v", err)
	}

	if len(transport.answers) != 1 || transport.answers[0] != (answeredClick{id: "q1"}) {
		t.Errorf("answers = %+v, want one silent ack", transport.answers)
	}
	if has, _ := store.HasReaction(ctx, 7, 100, "hotdog"); !has {
		t.Error("reaction not recorded")
	}
	if got := transport.lastEdit(t).kb.Buttons[0].Text; got != "🔥 (1)" {
		t.Errorf("hotdog label = %q, want %q", got, "🔥 (1)")
	}
}

func TestHandleReactionClickAlreadyReacted(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost failed: %v", err)
	}

	click := ReactionClick{ID: "q1", UserID: 7, MessageID: 100, Data: "drunk"}
	if err := r.HandleReactionClick(ctx, click); err != nil {
		t.Fatalf("first click failed: %v", err)
	}
	edits, inserts := len(transport.edits), store.inserts

	click.ID = "q2"
	if err := r.HandleReactionClick(ctx, click); err != nil {
		t.Fatalf("second click failed: %v", err)
	}

	last := transport.answers[len(transport.answers)-1]
	if last.id != "q2" || last.text != "already reacted" || !last.alert {
		t.Errorf("answer = %+v, want visible already-reacted notice", last)
	}
	if store.inserts != inserts {
		t.Errorf("store writes = %d, want %d", store.inserts, inserts)
	}
	if len(transport.edits) != edits {
		t.Errorf("keyboard edits = %d, want %d (no re-render)", len(transport.edits), edits)
	}
	if n, _ := store.CountReactions(ctx, 100, "drunk"); n != 1 {
		t.Errorf("drunk count = %d, want 1", n)
	}

	// The same user may still react with the other category
	if err := r.HandleReactionClick(ctx, ReactionClick{ID: "q3", UserID: 7, MessageID: 100, Data: "hotdog"}); err != nil {
		t.Fatalf("hotdog click failed: %v", err)
	}
	if n, _ := store.CountReactions(ctx, 100, "hotdog"); n != 1 {
		t.Errorf("hotdog count = %d, want 1", n)
	}
}

func TestHandleReactionClickInvalidCategory(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)

	click := ReactionClick{ID: "q1", UserID: 7, MessageID: 100, Data: "skull"}
	if err := r.HandleReactionClick(context.Background(), click); err != nil {
		t.Fatalf("HandleReactionClick failed: %v", err)
	}

	if store.inserts != 0 {
		t.Errorf("store writes = %d, want 0", store.inserts)
	}
	if len(transport.answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(transport.answers))
	}
	if a := transport.answers[0]; a.text != "Invalid reaction" || !a.alert {
		t.Errorf("answer = %+v, want visible rejection", a)
	}
	if len(transport.edits) != 0 {
		t.Errorf("keyboard edits = %d, want 0", len(transport.edits))
	}
}

func TestHandleReactionClickUnlinkedPost(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	click := ReactionClick{ID: "q1", UserID: 7, MessageID: 42, Data: "hotdog"}
	if err := r.HandleReactionClick(ctx, click); err != nil {
		t.Fatalf("HandleReactionClick failed: %v", err)
	}

	if has, _ := store.HasReaction(ctx, 7, 42, "hotdog"); !has {
		t.Error("reaction should be recorded even without a linkage")
	}
	if len(transport.edits) != 0 {
		t.Errorf("keyboard edits = %d, want 0", len(transport.edits))
	}
}

func TestHandleReactionClickStoreError(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("disk I/O error")
	transport := &mockTransport{}
	r := newTestRouter(t, store, transport)

	err := r.HandleReactionClick(context.Background(), ReactionClick{ID: "q1", UserID: 7, MessageID: 100, Data: "hotdog"})
	if err == nil {
		t.Fatal("expected error from failing store")
	}
	if len(transport.answers) != 0 {
		t.Errorf("answers = %d, want 0", len(transport.answers))
	}
}

func TestKeyboardPushIsBestEffort(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{editErr: errors.New("Bad Request: message to edit not found")}
	r := newTestRouter(t, store, transport)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.PushCount(metrics.PushFailed))

	if err := r.HandleForwardedPost(ctx, forwardedPost(100, 500)); err != nil {
		t.Fatalf("HandleForwardedPost should swallow push failures, got: %v", err)
	}
	if err := r.HandleGroupReply(ctx, GroupReply{ChatID: testGroupID, ThreadID: 500, MessageID: 501}); err != nil {
		t.Fatalf("HandleGroupReply should swallow push failures, got: %v", err)
	}
	if err := r.HandleReactionClick(ctx, ReactionClick{ID: "q1", UserID: 7, MessageID: 100, Data: "hotdog"}); err != nil {
		t.Fatalf("HandleReactionClick should swallow push failures, got: %v", err)
	}

	// State changes still happened
	if count, _ := store.CommentCount(ctx, 100); count != 1 {
		t.Errorf("comment count = %d, want 1", count)
	}
	if got := testutil.ToFloat64(metrics.PushCount(metrics.PushFailed)); got != before+3 {
		t.Errorf("failed pushes = %v, want %v", got, before+3)
	}
}

func TestRefreshReturnsEditError(t *testing.T) {
	store := newMockStore()
	transport := &mockTransport{editErr: errors.New("Too Many Requests")}
	r := newTestRouter(t, store, transport)

	if err := r.Refresh(context.Background(), 100, 500); err == nil {
		t.Error("Refresh should report edit failures to its caller")
	}
}
