package store

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"sudooom.im.chatsync/internal/model"
)

// Result 单条事件的应用结果
type Result struct {
	Applied            bool // 状态发生了变化
	New                bool // 消息首次出现
	Restored           bool // 会话从墓碑中恢复
	Unknown            bool // 会话此前不存在，创建了占位，需要刷新列表
	LastMessageChanged bool
}

// MergeResult 批量合并结果
type MergeResult struct {
	Added   []model.Message // 新出现的消息（按时间升序）
	Removed []string        // 被带外删除的消息 ID
	Changed bool
}

// pendingPrev 乐观发送前的会话摘要，回滚时恢复
type pendingPrev struct {
	conversationID string
	last           *model.LastMessage
	state          model.ReadState
}

type entry struct {
	conv      model.Conversation
	seq       uint64
	messages  map[string]*model.Message
	deletedAt time.Time
	// counted 服务端未读数已经覆盖到的最后一条消息，不晚于它的消息不再计入未读
	counted *model.LastMessage
	// provisional 本地创建的会话，第一次合并元数据时采用服务端未读数
	provisional bool
}

// Store 会话存储
// 不加锁，只能在引擎事件循环里调用
type Store struct {
	me         int64
	entries    map[string]*entry
	order      []*entry
	tombstones map[string]*entry
	pending    map[string]pendingPrev
	presence   *PresenceLog
	seq        uint64
	now        func() time.Time
	logger     *slog.Logger
}

// New 创建会话存储，me 为当前登录用户
func New(me int64) *Store {
	return &Store{
		me:         me,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]*entry),
		pending:    make(map[string]pendingPrev),
		presence:   NewPresenceLog(0),
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Me 当前用户
func (s *Store) Me() int64 {
	return s.me
}

func (s *Store) newEntry(conv model.Conversation) *entry {
	s.seq++
	if conv.Kind == model.KindPeer && !conv.HasParticipant(s.me) {
		conv.Participants = append(conv.Participants, s.me)
	}
	return &entry{
		conv:     conv,
		seq:      s.seq,
		messages: make(map[string]*model.Message),
		counted:  cloneLast(conv.LastMessage),
	}
}

func cloneLast(lm *model.LastMessage) *model.LastMessage {
	if lm == nil {
		return nil
	}
	c := *lm
	return &c
}

func (s *Store) insert(e *entry) {
	e.deletedAt = time.Time{}
	s.entries[e.conv.ID] = e
	s.order = append(s.order, e)
}

// resort 按最后消息时间倒序，同时间按插入顺序，没有消息的排最后
func (s *Store) resort() {
	slices.SortStableFunc(s.order, func(a, b *entry) int {
		at, bt := a.conv.LastTimestamp(), b.conv.LastTimestamp()
		if !at.Equal(bt) {
			return bt.Compare(at)
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

func (s *Store) lookup(id string) *entry {
	if e, ok := s.entries[id]; ok {
		return e
	}
	return s.tombstones[id]
}

// List 按展示顺序返回会话副本
func (s *Store) List() []model.Conversation {
	out := make([]model.Conversation, 0, len(s.order))
	for _, e := range s.order {
		out = append(out, e.conv.Clone())
	}
	return out
}

// Get 获取会话副本
func (s *Store) Get(id string) (model.Conversation, bool) {
	e, ok := s.entries[id]
	if !ok {
		return model.Conversation{}, false
	}
	return e.conv.Clone(), true
}

// Deleted 会话是否处于本地删除状态
func (s *Store) Deleted(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// Messages 会话消息副本，按时间升序
func (s *Store) Messages(id string) []model.Message {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	out := make([]model.Message, 0, len(e.messages))
	for _, m := range e.messages {
		out = append(out, *m)
	}
	slices.SortFunc(out, compareMessages)
	return out
}

func compareMessages(a, b model.Message) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return cmp.Compare(a.Key(), b.Key())
}

// TotalUnread 未读总数
func (s *Store) TotalUnread() int {
	total := 0
	for _, e := range s.order {
		total += e.conv.UnreadCount
	}
	return total
}

// Peer 会话对方用户 ID，助手会话或不存在时返回 0
func (s *Store) Peer(id string) int64 {
	e := s.lookup(id)
	if e == nil {
		return 0
	}
	return e.conv.PeerID(s.me)
}

// Len 可见会话数
func (s *Store) Len() int {
	return len(s.order)
}

// Snapshot 列表快照
func (s *Store) Snapshot() model.Snapshot {
	return model.Snapshot{
		Conversations: s.List(),
		TotalUnread:   s.TotalUnread(),
	}
}

// Reset 清空全部状态（登出）
func (s *Store) Reset() {
	s.entries = make(map[string]*entry)
	s.tombstones = make(map[string]*entry)
	s.pending = make(map[string]pendingPrev)
	s.order = nil
	s.presence = NewPresenceLog(0)
}

// ApplyPresence 追加在线状态事件并回放到对方为 userID 的会话上
// 返回状态有变化的会话 ID
func (s *Store) ApplyPresence(userID int64, tier model.Tier, value bool) []string {
	p := s.presence.Append(PresenceEvent{UserID: userID, Tier: tier, Value: value, At: s.now()})

	var changed []string
	for _, e := range s.order {
		if e.conv.PeerID(s.me) != userID {
			continue
		}
		if applyPresence(&e.conv, p) {
			changed = append(changed, e.conv.ID)
		}
	}
	for _, e := range s.tombstones {
		if e.conv.PeerID(s.me) == userID {
			applyPresence(&e.conv, p)
		}
	}
	return changed
}

func applyPresence(conv *model.Conversation, p model.Presence) bool {
	if conv.OtherUserOnline == p.Online && conv.OtherUserInChatList == p.InChatList {
		return false
	}
	conv.OtherUserOnline = p.Online
	conv.OtherUserInChatList = p.InChatList
	return true
}

// replayPresence 新插入的会话以日志为准，日志里没有对方记录时保留服务端给的值
func (s *Store) replayPresence(e *entry) {
	peer := e.conv.PeerID(s.me)
	if peer == 0 {
		e.conv.OtherUserOnline = false
		e.conv.OtherUserInChatList = false
		return
	}
	if p, ok := s.presence.Current(peer); ok {
		applyPresence(&e.conv, p)
		return
	}
	if !e.conv.OtherUserOnline {
		e.conv.OtherUserInChatList = false
	}
}

// SetMuted 设置免打扰，返回旧值
func (s *Store) SetMuted(id string, muted bool) (bool, bool) {
	e := s.lookup(id)
	if e == nil {
		return false, false
	}
	prev := e.conv.IsMuted
	e.conv.IsMuted = muted
	return prev, true
}

// SetTempMessagesDuration 设置阅后即焚时长，返回旧值
func (s *Store) SetTempMessagesDuration(id string, d time.Duration) (time.Duration, bool) {
	e := s.lookup(id)
	if e == nil {
		return 0, false
	}
	prev := e.conv.TempMessagesDuration
	e.conv.TempMessagesDuration = d
	return prev, true
}

// SetUnread 直接设置未读数，仅用于回滚
func (s *Store) SetUnread(id string, n int) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	e.conv.UnreadCount = max(n, 0)
	return true
}

// RemoveConversation 软删除会话，返回删除前的副本用于回滚
func (s *Store) RemoveConversation(id string) (model.Conversation, bool) {
	e, ok := s.entries[id]
	if !ok {
		return model.Conversation{}, false
	}
	delete(s.entries, id)
	s.order = slices.DeleteFunc(s.order, func(x *entry) bool { return x == e })
	e.deletedAt = s.now()
	s.tombstones[id] = e

	s.logger.Debug("Conversation removed", "conversationId", id)
	return e.conv.Clone(), true
}

// ReinstateConversation 撤销本地删除（删除请求失败回滚）
// 删除期间到达的消息保留在墓碑里，随会话一起恢复
func (s *Store) ReinstateConversation(conv model.Conversation) bool {
	e, ok := s.tombstones[conv.ID]
	if !ok {
		if _, visible := s.entries[conv.ID]; visible {
			return false
		}
		e = s.newEntry(conv.Clone())
	}
	delete(s.tombstones, conv.ID)
	s.insert(e)
	s.replayPresence(e)
	s.resort()
	return true
}

// RestoreConversation 服务端恢复会话
// 与墓碑以及删除期间到达的消息合并，而不是覆盖
func (s *Store) RestoreConversation(conv model.Conversation) Result {
	if e, ok := s.tombstones[conv.ID]; ok {
		delete(s.tombstones, conv.ID)
		s.mergeMeta(e, conv, unreadMerge)
		s.insert(e)
		s.replayPresence(e)
		s.resort()
		s.logger.Debug("Conversation restored", "conversationId", conv.ID)
		return Result{Applied: true, Restored: true, LastMessageChanged: true}
	}
	if e, ok := s.entries[conv.ID]; ok {
		changed := s.mergeMeta(e, conv, unreadMerge)
		if changed {
			s.resort()
		}
		return Result{Applied: changed}
	}

	e := s.newEntry(conv.Clone())
	s.insert(e)
	s.replayPresence(e)
	s.resort()
	return Result{Applied: true, Restored: true, LastMessageChanged: true}
}

// ApplyConversationUpdate 合并服务端推送的会话元数据
// 未读数按 mergeUnread 合并；墓碑中的会话只更新元数据不恢复
func (s *Store) ApplyConversationUpdate(conv model.Conversation) Result {
	if e, ok := s.tombstones[conv.ID]; ok {
		s.mergeMeta(e, conv, unreadMerge)
		return Result{}
	}
	if e, ok := s.entries[conv.ID]; ok {
		changed := s.mergeMeta(e, conv, unreadMerge)
		if changed {
			s.resort()
		}
		return Result{Applied: changed}
	}

	e := s.newEntry(conv.Clone())
	s.insert(e)
	s.replayPresence(e)
	s.resort()
	return Result{Applied: true, LastMessageChanged: e.conv.LastMessage != nil}
}

// MergeConversations 合并拉取到的会话列表，返回有变化的会话 ID
// authoritative 时未读数以服务端为准，列表里没有的会话移入墓碑
func (s *Store) MergeConversations(list []model.Conversation, authoritative bool) []string {
	policy := unreadMerge
	if authoritative {
		policy = unreadServer
	}

	var changed []string
	seen := make(map[string]struct{}, len(list))
	for _, conv := range list {
		seen[conv.ID] = struct{}{}

		if e, ok := s.tombstones[conv.ID]; ok {
			// 删除之后才有新消息，说明服务端已经恢复了会话
			if !conv.LastTimestamp().After(e.deletedAt) {
				continue
			}
			delete(s.tombstones, conv.ID)
			s.mergeMeta(e, conv, policy)
			s.insert(e)
			s.replayPresence(e)
			changed = append(changed, conv.ID)
			continue
		}
		if e, ok := s.entries[conv.ID]; ok {
			if s.mergeMeta(e, conv, policy) {
				changed = append(changed, conv.ID)
			}
			continue
		}

		e := s.newEntry(conv.Clone())
		s.insert(e)
		s.replayPresence(e)
		changed = append(changed, conv.ID)
	}

	if authoritative {
		for _, e := range slices.Clone(s.order) {
			if _, ok := seen[e.conv.ID]; ok {
				continue
			}
			if e.conv.LastMessage != nil && e.conv.LastMessage.ID == "" {
				continue // 乐观发送创建的会话，服务端还没有
			}
			s.RemoveConversation(e.conv.ID)
			changed = append(changed, e.conv.ID)
		}
	}

	s.resort()
	return changed
}

type unreadPolicy int

const (
	unreadMerge  unreadPolicy = iota // 见 mergeUnread
	unreadServer                     // 以服务端为准
)

// mergeMeta 合并服务端会话元数据
func (s *Store) mergeMeta(e *entry, conv model.Conversation, policy unreadPolicy) bool {
	before := e.conv.Clone()
	c := &e.conv
	local := cloneLast(c.LastMessage)

	if conv.Kind.Valid() {
		c.Kind = conv.Kind
	}
	if len(conv.Participants) > 0 {
		c.Participants = slices.Clone(conv.Participants)
	}
	c.IsMuted = conv.IsMuted
	c.TempMessagesDuration = conv.TempMessagesDuration

	switch {
	case conv.LastMessage == nil:
	case c.LastMessage == nil || lastAfter(conv.LastMessage, c.LastMessage):
		lm := *conv.LastMessage
		c.LastMessage = &lm
		c.LastMessageReadState = conv.LastMessageReadState
	case conv.LastMessage.ID == c.LastMessage.ID:
		// 同一条消息，已读状态只前进
		c.LastMessageReadState = max(c.LastMessageReadState, conv.LastMessageReadState)
	}
	if c.LastMessage != nil && c.LastMessage.SenderID != s.me {
		c.LastMessageReadState = model.ReadUnknown
	}

	if policy == unreadServer || e.provisional {
		s.adoptUnread(e, conv)
	} else {
		s.mergeUnread(e, conv, local)
	}

	c.OtherUserOnline = conv.OtherUserOnline
	c.OtherUserInChatList = conv.OtherUserInChatList
	s.replayPresence(e)

	return !conversationEqual(before, e.conv)
}

// adoptUnread 采用服务端未读数，并记录它覆盖到的消息
func (s *Store) adoptUnread(e *entry, conv model.Conversation) {
	e.conv.UnreadCount = max(conv.UnreadCount, 0)
	e.counted = cloneLast(conv.LastMessage)
	e.provisional = false
}

// mergeUnread 非权威合并的未读数
// 服务端最后一条消息更新时采用服务端未读数，相同时只取较小值，否则保留本地
func (s *Store) mergeUnread(e *entry, conv model.Conversation, local *model.LastMessage) {
	server := conv.LastMessage
	switch {
	case server == nil:
	case local == nil || lastAfter(server, local):
		s.adoptUnread(e, conv)
	case server.ID == local.ID:
		e.conv.UnreadCount = max(min(e.conv.UnreadCount, conv.UnreadCount), 0)
	}
}

// countable 对方发来的未读消息是否应计入未读数
func (s *Store) countable(m *model.Message, through *model.LastMessage) bool {
	if m.SenderID == s.me || m.Read {
		return false
	}
	return through == nil || lastAfter(m.ToLastMessage(), through)
}

func lastAfter(a, b *model.LastMessage) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func conversationEqual(a, b model.Conversation) bool {
	if a.Kind != b.Kind || a.UnreadCount != b.UnreadCount ||
		a.LastMessageReadState != b.LastMessageReadState ||
		a.OtherUserOnline != b.OtherUserOnline || a.OtherUserInChatList != b.OtherUserInChatList ||
		a.IsMuted != b.IsMuted || a.TempMessagesDuration != b.TempMessagesDuration ||
		!slices.Equal(a.Participants, b.Participants) {
		return false
	}
	if (a.LastMessage == nil) != (b.LastMessage == nil) {
		return false
	}
	return a.LastMessage == nil || *a.LastMessage == *b.LastMessage
}
