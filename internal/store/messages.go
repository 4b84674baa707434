package store

import (
	"slices"

	"sudooom.im.chatsync/internal/model"
)

func localKey(clientMsgID string) string {
	return "local:" + clientMsgID
}

// Ensure 会话不存在时创建一个空会话（打开尚未出现在列表里的会话）
func (s *Store) Ensure(id string, kind model.Kind) bool {
	if _, ok := s.entries[id]; ok {
		return false
	}
	if _, ok := s.tombstones[id]; ok {
		return false
	}
	e := s.newEntry(model.Conversation{ID: id, Kind: kind, Participants: []int64{s.me}})
	e.provisional = true
	s.insert(e)
	s.resort()
	return true
}

// placeholder 为未知会话的首条消息创建占位，元数据等列表刷新补齐
func (s *Store) placeholder(msg model.Message) *entry {
	conv := model.Conversation{
		ID:           msg.ConversationID,
		Kind:         model.KindPeer,
		Participants: []int64{s.me},
	}
	switch {
	case msg.SenderID == 0:
		conv.Kind = model.KindAssistant
	case msg.SenderID != s.me:
		conv.Participants = append(conv.Participants, msg.SenderID)
	}
	e := s.newEntry(conv)
	e.provisional = true
	s.insert(e)
	s.replayPresence(e)
	return e
}

// ApplyIncomingMessage 应用一条推送或拉取到的消息，按消息 ID 幂等
func (s *Store) ApplyIncomingMessage(msg model.Message) Result {
	if msg.ID == "" || msg.ConversationID == "" {
		s.logger.Warn("Incoming message without id ignored",
			"conversationId", msg.ConversationID, "clientMsgId", msg.ClientMsgID)
		return Result{}
	}

	var res Result
	e, ok := s.entries[msg.ConversationID]
	if !ok {
		if tomb, deleted := s.tombstones[msg.ConversationID]; deleted {
			if _, dup := tomb.messages[msg.ID]; dup {
				return Result{}
			}
			delete(s.tombstones, msg.ConversationID)
			s.insert(tomb)
			s.replayPresence(tomb)
			e = tomb
			res.Restored = true
		} else {
			e = s.placeholder(msg)
			res.Unknown = true
		}
	}

	added, lastChanged, updated := s.applyMessage(e, msg, e.counted)
	res.New = added
	res.LastMessageChanged = lastChanged
	res.Applied = added || updated || res.Restored || res.Unknown
	if lastChanged || res.Restored || res.Unknown {
		s.resort()
	}
	return res
}

// applyMessage 写入单条消息，晚于 through 的对方消息计入未读
func (s *Store) applyMessage(e *entry, msg model.Message, through *model.LastMessage) (added, lastChanged, updated bool) {
	recompute := false
	if msg.ClientMsgID != "" {
		if echo, ok := e.messages[localKey(msg.ClientMsgID)]; ok {
			recompute = isLast(e, echo)
			delete(e.messages, localKey(msg.ClientMsgID))
			delete(s.pending, msg.ClientMsgID)
			updated = true
		}
	}

	if existing, ok := e.messages[msg.ID]; ok {
		if msg.Read && !existing.Read {
			existing.Read = true
			updated = true
			if isLast(e, existing) && existing.SenderID == s.me {
				e.conv.LastMessageReadState = model.ReadDone
			}
		}
		if recompute {
			lastChanged = s.recomputeLast(e, nil, model.ReadUnknown)
		}
		return false, lastChanged, updated
	}

	m := msg
	e.messages[m.ID] = &m
	if s.countable(&m, through) {
		e.conv.UnreadCount++
	}

	switch {
	case recompute:
		lastChanged = s.recomputeLast(e, nil, model.ReadUnknown)
	case e.conv.LastMessage == nil || lastAfter(m.ToLastMessage(), e.conv.LastMessage):
		e.conv.LastMessage = m.ToLastMessage()
		e.conv.LastMessageReadState = readStateOf(&m, s.me)
		lastChanged = true
	}
	return true, lastChanged, true
}

func readStateOf(m *model.Message, me int64) model.ReadState {
	switch {
	case m.SenderID != me:
		return model.ReadUnknown
	case m.Read:
		return model.ReadDone
	default:
		return model.ReadPending
	}
}

func isLast(e *entry, m *model.Message) bool {
	lm := e.conv.LastMessage
	return lm != nil && lm.ID == m.ID && lm.Timestamp.Equal(m.CreatedAt)
}

// recomputeLast 从已知消息中重新选出最后一条，fallback 更新时优先使用 fallback
func (s *Store) recomputeLast(e *entry, fallback *model.LastMessage, fallbackState model.ReadState) bool {
	var newest *model.Message
	for _, m := range e.messages {
		if newest == nil || compareMessages(*m, *newest) > 0 {
			newest = m
		}
	}

	before := e.conv.LastMessage
	switch {
	case newest != nil && (fallback == nil || !lastAfter(fallback, newest.ToLastMessage())):
		e.conv.LastMessage = newest.ToLastMessage()
		e.conv.LastMessageReadState = readStateOf(newest, s.me)
	case fallback != nil:
		lm := *fallback
		e.conv.LastMessage = &lm
		e.conv.LastMessageReadState = fallbackState
	default:
		e.conv.LastMessage = nil
		e.conv.LastMessageReadState = model.ReadUnknown
	}

	if (before == nil) != (e.conv.LastMessage == nil) {
		return true
	}
	return before != nil && *before != *e.conv.LastMessage
}

// ApplyReadReceipt 应用已读回执，ids 为空表示整个会话
// 读者是自己时清零未读；读者是对方时把我发的消息标为已读。只会前进不会回退
func (s *Store) ApplyReadReceipt(conversationID string, readerID int64, ids ...string) bool {
	e := s.lookup(conversationID)
	if e == nil {
		return false
	}

	named := func(m *model.Message) bool {
		return len(ids) == 0 || slices.Contains(ids, m.ID)
	}

	changed := false
	if readerID == s.me {
		if e.conv.UnreadCount != 0 {
			e.conv.UnreadCount = 0
			changed = true
		}
		for _, m := range e.messages {
			if m.SenderID != s.me && !m.Read && named(m) {
				m.Read = true
				changed = true
			}
		}
		return changed
	}

	for _, m := range e.messages {
		if m.SenderID == s.me && !m.Pending() && !m.Read && named(m) {
			m.Read = true
			changed = true
		}
	}
	lm := e.conv.LastMessage
	if e.conv.LastMessageReadState == model.ReadPending && lm != nil && lm.ID != "" &&
		(len(ids) == 0 || slices.Contains(ids, lm.ID)) {
		e.conv.LastMessageReadState = model.ReadDone
		changed = true
	}
	return changed
}

// MergeMessages 合并一批拉取到的消息
// full 表示第一页：本地存在、服务端没有、且落在本批时间窗内的消息视为已被删除
func (s *Store) MergeMessages(conversationID string, batch []model.Message, full bool) MergeResult {
	var res MergeResult
	e, ok := s.entries[conversationID]
	if !ok {
		return res
	}

	sorted := slices.Clone(batch)
	slices.SortFunc(sorted, compareMessages)

	// 不晚于合并前最后一条消息的历史已由列表未读数或推送计过
	through := e.counted
	if lm := e.conv.LastMessage; lm != nil && (through == nil || lastAfter(lm, through)) {
		through = cloneLast(lm)
	}

	lastChanged := false
	fetched := make(map[string]struct{}, len(sorted))
	for _, msg := range sorted {
		if msg.ID == "" {
			continue
		}
		msg.ConversationID = conversationID
		fetched[msg.ID] = struct{}{}

		added, lc, updated := s.applyMessage(e, msg, through)
		if added {
			res.Added = append(res.Added, msg)
		}
		lastChanged = lastChanged || lc
		res.Changed = res.Changed || updated
	}

	if full && len(sorted) > 0 {
		oldest, newest := sorted[0].CreatedAt, sorted[len(sorted)-1].CreatedAt
		removedLast := false
		for key, m := range e.messages {
			if m.Pending() {
				continue
			}
			if _, ok := fetched[m.ID]; ok {
				continue
			}
			if m.CreatedAt.Before(oldest) || m.CreatedAt.After(newest) {
				continue
			}
			removedLast = removedLast || isLast(e, m)
			delete(e.messages, key)
			res.Removed = append(res.Removed, m.ID)
		}
		slices.Sort(res.Removed)
		if len(res.Removed) > 0 {
			res.Changed = true
		}
		if removedLast {
			lastChanged = s.recomputeLast(e, nil, model.ReadUnknown) || lastChanged
		}
	}

	if lastChanged {
		s.resort()
	}
	return res
}

// AddPending 写入乐观发送的本地回显
func (s *Store) AddPending(msg model.Message) bool {
	if msg.ClientMsgID == "" {
		return false
	}
	e, ok := s.entries[msg.ConversationID]
	if !ok {
		return false
	}

	prev := pendingPrev{conversationID: msg.ConversationID, state: e.conv.LastMessageReadState}
	if e.conv.LastMessage != nil {
		lm := *e.conv.LastMessage
		prev.last = &lm
	}
	s.pending[msg.ClientMsgID] = prev

	m := msg
	m.ID = ""
	m.SenderID = s.me
	e.messages[m.Key()] = &m
	e.conv.LastMessage = m.ToLastMessage()
	e.conv.LastMessageReadState = model.ReadPending
	s.resort()
	return true
}

// ConfirmPending 用服务端返回的消息替换本地回显
// 推送可能先于发送响应到达，两种顺序结果一致
func (s *Store) ConfirmPending(clientMsgID string, serverMsg model.Message) Result {
	prev, ok := s.pending[clientMsgID]
	if ok && serverMsg.ConversationID == "" {
		serverMsg.ConversationID = prev.conversationID
	}
	serverMsg.ClientMsgID = clientMsgID
	return s.ApplyIncomingMessage(serverMsg)
}

// DropPending 发送失败时移除本地回显并恢复之前的摘要
func (s *Store) DropPending(clientMsgID string) bool {
	prev, ok := s.pending[clientMsgID]
	if !ok {
		return false
	}
	delete(s.pending, clientMsgID)

	e := s.lookup(prev.conversationID)
	if e == nil {
		return true
	}
	echo, ok := e.messages[localKey(clientMsgID)]
	if !ok {
		return true
	}
	delete(e.messages, localKey(clientMsgID))
	if isLast(e, echo) {
		s.recomputeLast(e, prev.last, prev.state)
		s.resort()
	}
	return true
}
