package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.chatsync/internal/backend"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/presence"
	"sudooom.im.chatsync/pkg/proto"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type serverConv struct {
	id           string
	kind         model.Kind
	participants []int64
	deleted      map[int64]bool
	muted        map[int64]bool
	temp         map[int64]time.Duration
	messages     []model.Message
}

type delivery struct {
	to    int64
	frame []byte
}

// fakeServer 内存版服务端：保存会话和消息，按参与者扇出推送帧
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	seq      int
	convs    map[string]*serverConv
	online   map[int64]bool
	inList   map[int64]bool
	sinks    map[int64]presence.Sink
	failures map[string]error
	calls    map[string]int
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:        t,
		convs:    make(map[string]*serverConv),
		online:   make(map[int64]bool),
		inList:   make(map[int64]bool),
		sinks:    make(map[int64]presence.Sink),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (s *fakeServer) addConversation(id string, kind model.Kind, participants ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id] = &serverConv{
		id:           id,
		kind:         kind,
		participants: participants,
		deleted:      make(map[int64]bool),
		muted:        make(map[int64]bool),
		temp:         make(map[int64]time.Duration),
	}
}

// addMessage 预置历史消息，不推送
func (s *fakeServer) addMessage(conversationID, id string, sender int64, content string, sec int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convs[conversationID]
	require.NotNil(s.t, c, "unknown conversation %s", conversationID)
	c.messages = append(c.messages, model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
		Type:           model.MessageTypeText,
		CreatedAt:      epoch.Add(time.Duration(sec) * time.Second),
	})
	slices.SortFunc(c.messages, compareMessages)
}

func (s *fakeServer) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *fakeServer) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeServer) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func (s *fakeServer) conversation(id string, me int64) (*serverConv, error) {
	c, ok := s.convs[id]
	if !ok || !slices.Contains(c.participants, me) {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return c, nil
}

func (s *fakeServer) viewLocked(c *serverConv, me int64) model.Conversation {
	conv := model.Conversation{
		ID:                   c.id,
		Kind:                 c.kind,
		Participants:         slices.Clone(c.participants),
		IsMuted:              c.muted[me],
		TempMessagesDuration: c.temp[me],
	}
	for _, m := range c.messages {
		if m.SenderID != me && !m.Read {
			conv.UnreadCount++
		}
	}
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		conv.LastMessage = last.ToLastMessage()
		if last.SenderID == me {
			conv.LastMessageReadState = model.ReadPending
			if last.Read {
				conv.LastMessageReadState = model.ReadDone
			}
		}
	}
	if peer := conv.PeerID(me); peer != 0 {
		conv.OtherUserOnline = s.online[peer]
		conv.OtherUserInChatList = s.inList[peer]
	}
	return conv
}

func (s *fakeServer) frameLocked(to int64, event string, payload any) delivery {
	frame, err := proto.Encode(event, payload)
	require.NoError(s.t, err)
	return delivery{to: to, frame: frame}
}

// peersLocked 与 me 同在任一会话中的其他用户
func (s *fakeServer) peersLocked(me int64) []int64 {
	var peers []int64
	for _, c := range s.convs {
		if !slices.Contains(c.participants, me) {
			continue
		}
		for _, p := range c.participants {
			if p != me && !slices.Contains(peers, p) {
				peers = append(peers, p)
			}
		}
	}
	return peers
}

// deliver 在锁外推送，接收方处理时可能回调服务端
func (s *fakeServer) deliver(out []delivery) {
	for _, d := range out {
		s.mu.Lock()
		sink := s.sinks[d.to]
		s.mu.Unlock()
		if sink != nil {
			sink.Frame(d.frame)
		}
	}
}

func (s *fakeServer) attach(me int64, sink presence.Sink) {
	s.mu.Lock()
	s.sinks[me] = sink
	s.online[me] = true
	var out []delivery
	for _, p := range s.peersLocked(me) {
		out = append(out, s.frameLocked(p, proto.EventUserOnline, proto.UserOnline{UserID: me}))
	}
	s.mu.Unlock()

	sink.State(true)
	s.deliver(out)
}

func (s *fakeServer) detach(me int64) {
	s.mu.Lock()
	delete(s.sinks, me)
	s.online[me] = false
	s.inList[me] = false
	var out []delivery
	for _, p := range s.peersLocked(me) {
		out = append(out, s.frameLocked(p, proto.EventUserOffline, proto.UserOffline{UserID: me}))
	}
	s.mu.Unlock()
	s.deliver(out)
}

func (s *fakeServer) announce(me int64, cmd proto.PresenceCommand) {
	s.mu.Lock()
	var out []delivery
	switch cmd.Tier {
	case model.TierInChatList:
		s.inList[me] = cmd.Value
		for _, p := range s.peersLocked(me) {
			out = append(out, s.frameLocked(p, proto.EventUserChatListStatus,
				proto.UserChatListStatus{UserID: me, InChatList: cmd.Value}))
		}
	case model.TierOnline:
		s.online[me] = cmd.Value
	}
	s.mu.Unlock()
	s.deliver(out)
}

// userBackend 某个用户视角的服务端接口
type userBackend struct {
	s  *fakeServer
	me int64
}

var _ backend.Backend = (*userBackend)(nil)

func (b *userBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("listConversations"); err != nil {
		return nil, err
	}
	var out []model.Conversation
	for _, c := range s.convs {
		if slices.Contains(c.participants, b.me) && !c.deleted[b.me] {
			out = append(out, s.viewLocked(c, b.me))
		}
	}
	slices.SortFunc(out, func(x, y model.Conversation) int {
		return y.LastTimestamp().Compare(x.LastTimestamp())
	})
	return out, nil
}

func (b *userBackend) ListMessages(ctx context.Context, conversationID string, kind model.Kind, cursor string, limit int) (backend.Page, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("listMessages"); err != nil {
		return backend.Page{}, err
	}
	c, err := s.conversation(conversationID, b.me)
	if err != nil {
		return backend.Page{}, err
	}
	return backend.Page{Messages: slices.Clone(c.messages)}, nil
}

func (b *userBackend) MarkRead(ctx context.Context, conversationID string) error {
	s := b.s
	s.mu.Lock()
	if err := s.enter("markRead"); err != nil {
		s.mu.Unlock()
		return err
	}
	c, err := s.conversation(conversationID, b.me)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for i := range c.messages {
		if c.messages[i].SenderID != b.me {
			c.messages[i].Read = true
		}
	}
	var out []delivery
	for _, p := range c.participants {
		out = append(out, s.frameLocked(p, proto.EventMessagesRead,
			proto.MessagesRead{ConversationID: conversationID, ReadBy: b.me}))
	}
	s.mu.Unlock()
	s.deliver(out)
	return nil
}

func (b *userBackend) SendMessage(ctx context.Context, msg backend.Outbound) (model.Message, error) {
	s := b.s
	s.mu.Lock()
	if err := s.enter("send"); err != nil {
		s.mu.Unlock()
		return model.Message{}, err
	}
	c, err := s.conversation(msg.ConversationID, b.me)
	if err != nil {
		s.mu.Unlock()
		return model.Message{}, err
	}
	s.seq++
	sent := model.Message{
		ID:             fmt.Sprintf("srv-%d", s.seq),
		ClientMsgID:    msg.ClientMsgID,
		ConversationID: msg.ConversationID,
		SenderID:       b.me,
		Content:        msg.Content,
		Type:           msg.Type,
		CreatedAt:      epoch.Add(time.Hour + time.Duration(s.seq)*time.Second),
	}

	var out []delivery
	for _, p := range c.participants {
		if c.deleted[p] {
			delete(c.deleted, p)
			out = append(out, s.frameLocked(p, proto.EventConversationRestored,
				proto.ConversationRestored{ConversationID: c.id, Conversation: s.viewLocked(c, p)}))
		}
	}
	c.messages = append(c.messages, sent)
	for _, p := range c.participants {
		out = append(out, s.frameLocked(p, proto.EventNewMessage,
			proto.NewMessage{ConversationID: c.id, Kind: c.kind, Message: sent}))
	}
	s.mu.Unlock()
	s.deliver(out)
	return sent, nil
}

func (b *userBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete"); err != nil {
		return err
	}
	c, err := s.conversation(conversationID, b.me)
	if err != nil {
		return err
	}
	c.deleted[b.me] = true
	return nil
}

func (b *userBackend) UpdateSettings(ctx context.Context, conversationID string, settings backend.Settings) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("settings"); err != nil {
		return err
	}
	c, err := s.conversation(conversationID, b.me)
	if err != nil {
		return err
	}
	if settings.IsMuted != nil {
		c.muted[b.me] = *settings.IsMuted
	}
	if settings.TempMessagesDuration != nil {
		c.temp[b.me] = *settings.TempMessagesDuration
	}
	return nil
}

// fakeTransport 直接挂在 fakeServer 上的推送通道
type fakeTransport struct {
	s  *fakeServer
	me int64

	mu    sync.Mutex
	sink  presence.Sink
	joins []string
}

func (f *fakeTransport) Start(ctx context.Context, sink presence.Sink) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	f.s.attach(f.me, sink)
	return nil
}

func (f *fakeTransport) Join(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, conversationID)
	return nil
}

func (f *fakeTransport) Leave(conversationID string) error {
	return nil
}

func (f *fakeTransport) Send(command string, payload any) error {
	if command == proto.CommandPresence {
		f.s.announce(f.me, payload.(proto.PresenceCommand))
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.s.detach(f.me)
	return nil
}

func (f *fakeTransport) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.joins)
}

// fakeSurface 记录弹出的通知，点击由测试触发
type fakeSurface struct {
	mu      sync.Mutex
	denied  bool
	shown   []proto.NotificationPayload
	onClick func(proto.NotificationClick)
}

func (s *fakeSurface) RequestPermission(ctx context.Context) (bool, error) {
	return !s.denied, nil
}

func (s *fakeSurface) Show(ctx context.Context, n proto.NotificationPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, n)
	return nil
}

func (s *fakeSurface) Close(ctx context.Context, tag string) error {
	return nil
}

func (s *fakeSurface) OnClick(fn func(proto.NotificationClick)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick = fn
	return func() {
		s.mu.Lock()
		s.onClick = nil
		s.mu.Unlock()
	}, nil
}

func (s *fakeSurface) click(c proto.NotificationClick) {
	s.mu.Lock()
	fn := s.onClick
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (s *fakeSurface) shownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shown)
}

func compareMessages(a, b model.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
