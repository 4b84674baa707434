package store

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chatsync/internal/model"
)

const (
	me   int64 = 1
	peer int64 = 2
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func msg(id, conv string, sender int64, sec int) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        "hello " + id,
		Type:           model.MessageTypeText,
		CreatedAt:      at(sec),
	}
}

func peerConv(id string, other int64) model.Conversation {
	return model.Conversation{ID: id, Kind: model.KindPeer, Participants: []int64{me, other}}
}

func ids(convs []model.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestApplyIncomingMessageIdempotent(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)

	first := s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	assert.True(t, first.Applied)
	assert.True(t, first.New)

	second := s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	assert.Equal(t, Result{}, second)

	conv, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestApplyIncomingMessageReadState(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)

	s.ApplyIncomingMessage(msg("m1", "c1", me, 1))
	conv, _ := s.Get("c1")
	assert.Equal(t, model.ReadPending, conv.LastMessageReadState)
	assert.Equal(t, 0, conv.UnreadCount, "own message never bumps unread")

	s.ApplyIncomingMessage(msg("m2", "c1", peer, 2))
	conv, _ = s.Get("c1")
	assert.Equal(t, model.ReadUnknown, conv.LastMessageReadState)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "m2", conv.LastMessage.ID)

	// 迟到的旧消息不改变最后一条
	res := s.ApplyIncomingMessage(msg("m0", "c1", peer, 0))
	assert.True(t, res.New)
	assert.False(t, res.LastMessageChanged)
	conv, _ = s.Get("c1")
	assert.Equal(t, "m2", conv.LastMessage.ID)
	assert.Equal(t, 2, conv.UnreadCount)
}

func TestApplyIncomingMessageUnknownConversation(t *testing.T) {
	s := New(me)

	res := s.ApplyIncomingMessage(msg("m1", "c9", peer, 1))
	assert.True(t, res.Unknown)
	assert.True(t, res.New)

	conv, ok := s.Get("c9")
	require.True(t, ok)
	assert.Equal(t, model.KindPeer, conv.Kind)
	assert.Equal(t, peer, conv.PeerID(me))

	res = s.ApplyIncomingMessage(msg("a1", "assist", 0, 2))
	assert.True(t, res.Unknown)
	conv, _ = s.Get("assist")
	assert.Equal(t, model.KindAssistant, conv.Kind)

	assert.Equal(t, Result{}, s.ApplyIncomingMessage(model.Message{ConversationID: "c9"}))
}

func TestOrdering(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{
		peerConv("empty1", 3),
		peerConv("a", 4),
		peerConv("b", 5),
		peerConv("empty2", 6),
		peerConv("c", 7),
	}, false)

	s.ApplyIncomingMessage(msg("m1", "a", 4, 10))
	s.ApplyIncomingMessage(msg("m2", "b", 5, 10))
	s.ApplyIncomingMessage(msg("m3", "c", 7, 5))

	// 同时间按插入顺序，没有消息的排在最后且保持插入顺序
	assert.Equal(t, []string{"a", "b", "c", "empty1", "empty2"}, ids(s.List()))

	s.ApplyIncomingMessage(msg("m4", "c", 7, 11))
	assert.Equal(t, []string{"c", "a", "b", "empty1", "empty2"}, ids(s.List()))
}

func TestOrderingUnderRandomEvents(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	s := New(me)
	var convs []model.Conversation
	for i := 0; i < 8; i++ {
		convs = append(convs, peerConv(fmt.Sprintf("c%d", i), int64(10+i)))
	}
	s.MergeConversations(convs, false)

	for i := 0; i < 300; i++ {
		conv := convs[rng.IntN(len(convs))]
		m := msg(fmt.Sprintf("m%d", rng.IntN(200)), conv.ID, conv.Participants[1], rng.IntN(1000))
		s.ApplyIncomingMessage(m)

		list := s.List()
		for j := 1; j < len(list); j++ {
			prev, cur := list[j-1].LastTimestamp(), list[j].LastTimestamp()
			if cur.After(prev) {
				t.Fatalf("step %d: %s (%v) sorted after %s (%v)", i, list[j].ID, cur, list[j-1].ID, prev)
			}
		}
	}
}

// TestConvergence 推送与轮询以任意顺序交错，最终状态一致
func TestConvergence(t *testing.T) {
	c1 := peerConv("c1", peer)
	c1.LastMessage = &model.LastMessage{ID: "m1", SenderID: peer, Timestamp: at(1)}
	c1.UnreadCount = 1
	base := []model.Conversation{c1, peerConv("c2", 3)}
	pushes := []model.Message{
		msg("m1", "c1", peer, 1),
		msg("m2", "c1", me, 2),
		msg("m3", "c1", peer, 3),
		msg("n1", "c2", 3, 4),
	}
	polls := [][]model.Message{
		{msg("m1", "c1", peer, 1), msg("m2", "c1", me, 2)},
		{msg("m2", "c1", me, 2), msg("m3", "c1", peer, 3)},
	}

	type event func(*Store)
	var events []event
	for _, m := range pushes {
		events = append(events, func(s *Store) { s.ApplyIncomingMessage(m) })
	}
	for _, batch := range polls {
		events = append(events, func(s *Store) { s.MergeMessages("c1", batch, false) })
	}
	events = append(events, func(s *Store) { s.MergeMessages("c2", []model.Message{msg("n1", "c2", 3, 4)}, false) })

	run := func(order []int) (model.Snapshot, []model.Message) {
		s := New(me)
		s.MergeConversations(base, false)
		for _, i := range order {
			events[i](s)
		}
		return s.Snapshot(), s.Messages("c1")
	}

	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	wantSnap, wantMsgs := run(order)
	require.Equal(t, "c1", wantSnap.Conversations[1].ID)
	assert.Equal(t, 2, wantSnap.Conversations[1].UnreadCount)
	assert.Equal(t, 3, wantSnap.TotalUnread)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		gotSnap, gotMsgs := run(order)
		if diff := cmp.Diff(wantSnap, gotSnap); diff != "" {
			t.Fatalf("order %v snapshot mismatch (-want +got):\n%s", order, diff)
		}
		if diff := cmp.Diff(wantMsgs, gotMsgs); diff != "" {
			t.Fatalf("order %v messages mismatch (-want +got):\n%s", order, diff)
		}
	}
}

func TestReadReceiptMonotonic(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", me, 1))

	assert.True(t, s.ApplyReadReceipt("c1", peer))
	conv, _ := s.Get("c1")
	assert.Equal(t, model.ReadDone, conv.LastMessageReadState)
	assert.True(t, s.Messages("c1")[0].Read)

	assert.False(t, s.ApplyReadReceipt("c1", peer), "second receipt is a no-op")

	// 服务端列表里同一条消息仍是未读，不能回退
	stale := peerConv("c1", peer)
	stale.LastMessage = &model.LastMessage{ID: "m1", SenderID: me, Timestamp: at(1)}
	stale.LastMessageReadState = model.ReadPending
	s.MergeConversations([]model.Conversation{stale}, true)
	conv, _ = s.Get("c1")
	assert.Equal(t, model.ReadDone, conv.LastMessageReadState)

	// 只有新的外发消息才回到未读
	s.ApplyIncomingMessage(msg("m2", "c1", me, 2))
	conv, _ = s.Get("c1")
	assert.Equal(t, model.ReadPending, conv.LastMessageReadState)
	assert.True(t, s.Messages("c1")[0].Read)
}

func TestReadReceiptBySelfClearsUnread(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	s.ApplyIncomingMessage(msg("m2", "c1", peer, 2))

	assert.True(t, s.ApplyReadReceipt("c1", me))
	conv, _ := s.Get("c1")
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, model.ReadUnknown, conv.LastMessageReadState)
	for _, m := range s.Messages("c1") {
		assert.True(t, m.Read, m.ID)
	}
	assert.False(t, s.ApplyReadReceipt("missing", me))
}

func TestReadReceiptByIDs(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", me, 1))
	s.ApplyIncomingMessage(msg("m2", "c1", me, 2))

	s.ApplyReadReceipt("c1", peer, "m1")
	conv, _ := s.Get("c1")
	assert.Equal(t, model.ReadPending, conv.LastMessageReadState)

	s.ApplyReadReceipt("c1", peer, "m2")
	conv, _ = s.Get("c1")
	assert.Equal(t, model.ReadDone, conv.LastMessageReadState)
}

// TestRestoreAfterDelete 删除后恢复与新消息以任意顺序到达
func TestRestoreAfterDelete(t *testing.T) {
	setup := func() *Store {
		s := New(me)
		s.MergeConversations([]model.Conversation{peerConv("c1", peer), peerConv("c2", 3)}, false)
		s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
		s.ApplyIncomingMessage(msg("n1", "c2", 3, 5))
		_, ok := s.RemoveConversation("c1")
		require.True(t, ok)
		assert.True(t, s.Deleted("c1"))
		assert.Equal(t, []string{"c2"}, ids(s.List()))
		return s
	}
	restored := peerConv("c1", peer)
	restored.LastMessage = &model.LastMessage{ID: "m1", SenderID: peer, Timestamp: at(1)}
	restored.UnreadCount = 1
	incoming := msg("m9", "c1", peer, 9)

	a := setup()
	assert.True(t, a.RestoreConversation(restored).Restored)
	a.ApplyIncomingMessage(incoming)

	b := setup()
	assert.True(t, b.ApplyIncomingMessage(incoming).Restored)
	b.RestoreConversation(restored)

	for _, s := range []*Store{a, b} {
		assert.Equal(t, []string{"c1", "c2"}, ids(s.List()))
		conv, ok := s.Get("c1")
		require.True(t, ok)
		assert.Equal(t, "m9", conv.LastMessage.ID)
		assert.Equal(t, 2, conv.UnreadCount)
		assert.Len(t, s.Messages("c1"), 2)
	}
	if diff := cmp.Diff(a.Snapshot(), b.Snapshot()); diff != "" {
		t.Errorf("restore order changed result (-a +b):\n%s", diff)
	}
}

func TestDuplicateOnTombstoneDoesNotRestore(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	s.RemoveConversation("c1")

	assert.Equal(t, Result{}, s.ApplyIncomingMessage(msg("m1", "c1", peer, 1)))
	assert.True(t, s.Deleted("c1"))
}

func TestReinstateConversation(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))

	prev, ok := s.RemoveConversation("c1")
	require.True(t, ok)
	_, ok = s.Get("c1")
	assert.False(t, ok)

	assert.True(t, s.ReinstateConversation(prev))
	conv, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Len(t, s.Messages("c1"), 1)
	assert.False(t, s.ReinstateConversation(prev))
}

func TestPendingConfirm(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))

	echo := model.Message{ClientMsgID: "cid-1", ConversationID: "c1", Content: "hi", Type: model.MessageTypeText, CreatedAt: at(5)}
	require.True(t, s.AddPending(echo))
	conv, _ := s.Get("c1")
	assert.Equal(t, "", conv.LastMessage.ID)
	assert.Equal(t, model.ReadPending, conv.LastMessageReadState)

	server := msg("m2", "c1", me, 4)
	res := s.ConfirmPending("cid-1", server)
	assert.True(t, res.New)

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)
	conv, _ = s.Get("c1")
	assert.Equal(t, "m2", conv.LastMessage.ID)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestPendingConfirmAfterPushEcho(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)

	echo := model.Message{ClientMsgID: "cid-1", ConversationID: "c1", Content: "hi", CreatedAt: at(5)}
	require.True(t, s.AddPending(echo))

	pushed := msg("m2", "c1", me, 5)
	pushed.ClientMsgID = "cid-1"
	s.ApplyIncomingMessage(pushed)
	s.ConfirmPending("cid-1", msg("m2", "c1", me, 5))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.False(t, s.DropPending("cid-1"))
}

func TestDropPendingRestoresSummary(t *testing.T) {
	s := New(me)
	c1 := peerConv("c1", peer)
	c1.LastMessage = &model.LastMessage{ID: "old", SenderID: peer, Preview: "x", Timestamp: at(1)}
	s.MergeConversations([]model.Conversation{c1, peerConv("c2", 3)}, false)
	s.ApplyIncomingMessage(msg("n1", "c2", 3, 3))
	assert.Equal(t, []string{"c2", "c1"}, ids(s.List()))

	require.True(t, s.AddPending(model.Message{ClientMsgID: "cid-1", ConversationID: "c1", Content: "hi", CreatedAt: at(5)}))
	assert.Equal(t, []string{"c1", "c2"}, ids(s.List()))

	assert.True(t, s.DropPending("cid-1"))
	conv, _ := s.Get("c1")
	assert.Equal(t, "old", conv.LastMessage.ID)
	assert.Equal(t, model.ReadUnknown, conv.LastMessageReadState)
	assert.Empty(t, s.Messages("c1"))
	assert.Equal(t, []string{"c2", "c1"}, ids(s.List()))
}

func TestMergeMessagesFullRemovesDeleted(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		s.ApplyIncomingMessage(msg(id, "c1", peer, i+1))
	}
	s.ApplyIncomingMessage(msg("m5", "c1", peer, 10))

	res := s.MergeMessages("c1", []model.Message{
		msg("m2", "c1", peer, 2),
		msg("m4", "c1", peer, 4),
		msg("m6", "c1", peer, 6),
	}, true)

	require.Len(t, res.Added, 1)
	assert.Equal(t, "m6", res.Added[0].ID)
	// m1 早于窗口，m5 晚于窗口，都保留
	assert.Equal(t, []string{"m3"}, res.Removed)
	assert.True(t, res.Changed)

	var got []string
	for _, m := range s.Messages("c1") {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m4", "m6", "m5"}, got)
}

func TestMergeMessagesRemovedLastRecomputed(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	s.ApplyIncomingMessage(msg("m2", "c1", me, 2))
	s.ApplyIncomingMessage(msg("m3", "c1", peer, 3))

	res := s.MergeMessages("c1", []model.Message{
		msg("m1", "c1", peer, 1),
		msg("m2", "c1", me, 2),
		msg("m2b", "c1", me, 3),
	}, true)
	assert.Equal(t, []string{"m3"}, res.Removed)
	conv, _ := s.Get("c1")
	assert.Equal(t, "m2b", conv.LastMessage.ID)
	assert.Equal(t, model.ReadPending, conv.LastMessageReadState)

	assert.Empty(t, s.MergeMessages("missing", []model.Message{msg("x", "missing", peer, 1)}, true).Added)
}

func TestApplyPresence(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer), peerConv("c2", 3)}, false)

	changed := s.ApplyPresence(peer, model.TierInChatList, true)
	assert.Equal(t, []string{"c1"}, changed)
	conv, _ := s.Get("c1")
	assert.True(t, conv.OtherUserOnline)
	assert.True(t, conv.OtherUserInChatList)

	assert.Empty(t, s.ApplyPresence(peer, model.TierOnline, true))

	s.ApplyPresence(peer, model.TierOnline, false)
	conv, _ = s.Get("c1")
	assert.False(t, conv.OtherUserOnline)
	assert.False(t, conv.OtherUserInChatList, "offline forces in-chat-list off")

	// 之后才出现的会话以日志为准
	s.ApplyPresence(9, model.TierOnline, true)
	s.MergeConversations([]model.Conversation{peerConv("c9", 9)}, false)
	conv, _ = s.Get("c9")
	assert.True(t, conv.OtherUserOnline)
	assert.Equal(t, int64(9), s.Peer("c9"))
}

func TestMergeConversationsUnreadPolicy(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer), peerConv("c2", 3)}, false)
	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	s.ApplyIncomingMessage(msg("m2", "c1", peer, 2))

	server := peerConv("c1", peer)
	server.LastMessage = &model.LastMessage{ID: "m2", SenderID: peer, Timestamp: at(2)}
	server.UnreadCount = 1

	// 最后一条消息相同，服务端计数只能降低本地
	s.MergeConversations([]model.Conversation{server, peerConv("c2", 3)}, false)
	conv, _ := s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)

	server.UnreadCount = 4
	s.MergeConversations([]model.Conversation{server, peerConv("c2", 3)}, false)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount, "non-authoritative merge never raises unread")

	changed := s.MergeConversations([]model.Conversation{server}, true)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Contains(t, changed, "c2")
	assert.True(t, s.Deleted("c2"), "conversation missing from authoritative list")
	assert.Equal(t, 1, s.TotalUnread())
}

func TestListPollCannotUndoMarkRead(t *testing.T) {
	s := New(me)
	c1 := peerConv("c1", peer)
	c1.LastMessage = &model.LastMessage{ID: "m2", SenderID: peer, Timestamp: at(2)}
	c1.UnreadCount = 2
	s.MergeConversations([]model.Conversation{c1}, true)
	require.True(t, s.ApplyReadReceipt("c1", me))

	// 标记已读之前发出的列表请求
	stale := c1
	stale.UnreadCount = 3
	s.MergeConversations([]model.Conversation{stale}, false)
	conv, _ := s.Get("c1")
	assert.Equal(t, 0, conv.UnreadCount)

	fresh := c1
	fresh.UnreadCount = 0
	s.MergeConversations([]model.Conversation{fresh}, false)
	conv, _ = s.Get("c1")
	assert.Equal(t, 0, conv.UnreadCount)

	// 服务端先看到新消息时采用服务端计数，之后推送同一条不再重复计数
	newer := c1
	newer.LastMessage = &model.LastMessage{ID: "m3", SenderID: peer, Timestamp: at(3)}
	newer.UnreadCount = 1
	s.MergeConversations([]model.Conversation{newer}, false)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)

	assert.True(t, s.ApplyIncomingMessage(msg("m3", "c1", peer, 3)).New)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)

	s.ApplyIncomingMessage(msg("m4", "c1", peer, 4))
	conv, _ = s.Get("c1")
	assert.Equal(t, 2, conv.UnreadCount)
}

func TestMergeMessagesHistoryKeepsUnread(t *testing.T) {
	s := New(me)
	c1 := peerConv("c1", peer)
	c1.LastMessage = &model.LastMessage{ID: "m2", SenderID: peer, Timestamp: at(2)}
	c1.UnreadCount = 2
	s.MergeConversations([]model.Conversation{c1}, true)

	res := s.MergeMessages("c1", []model.Message{msg("m1", "c1", peer, 1), msg("m2", "c1", peer, 2)}, true)
	assert.Len(t, res.Added, 2)
	conv, _ := s.Get("c1")
	assert.Equal(t, 2, conv.UnreadCount, "history already counted by the list")

	res = s.MergeMessages("c1", []model.Message{
		msg("m1", "c1", peer, 1),
		msg("m2", "c1", peer, 2),
		msg("m3", "c1", peer, 3),
	}, true)
	require.Len(t, res.Added, 1)
	conv, _ = s.Get("c1")
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, "m3", conv.LastMessage.ID)
}

func TestLocalConversationAdoptsServerUnread(t *testing.T) {
	s := New(me)
	require.True(t, s.Ensure("c1", model.KindPeer))

	s.MergeMessages("c1", []model.Message{msg("m1", "c1", peer, 1), msg("m2", "c1", peer, 2)}, true)
	conv, _ := s.Get("c1")
	assert.Equal(t, 2, conv.UnreadCount)

	server := peerConv("c1", peer)
	server.LastMessage = &model.LastMessage{ID: "m2", SenderID: peer, Timestamp: at(2)}
	server.UnreadCount = 1
	s.MergeConversations([]model.Conversation{server}, false)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)

	// 之后按常规规则合并
	server.UnreadCount = 5
	s.MergeConversations([]model.Conversation{server}, false)
	conv, _ = s.Get("c1")
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestMergeConversationsTombstone(t *testing.T) {
	s := New(me)
	s.now = func() time.Time { return at(10) }
	c1 := peerConv("c1", peer)
	c1.LastMessage = &model.LastMessage{ID: "m1", SenderID: peer, Timestamp: at(1)}
	s.MergeConversations([]model.Conversation{c1}, false)
	s.RemoveConversation("c1")

	// 删除前的旧列表不能把会话带回来
	s.MergeConversations([]model.Conversation{c1}, false)
	assert.True(t, s.Deleted("c1"))

	c1.LastMessage = &model.LastMessage{ID: "m2", SenderID: peer, Timestamp: at(20)}
	s.MergeConversations([]model.Conversation{c1}, false)
	assert.False(t, s.Deleted("c1"))
	conv, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "m2", conv.LastMessage.ID)
}

func TestSettings(t *testing.T) {
	s := New(me)
	s.MergeConversations([]model.Conversation{peerConv("c1", peer)}, false)

	prev, ok := s.SetMuted("c1", true)
	assert.True(t, ok)
	assert.False(t, prev)
	conv, _ := s.Get("c1")
	assert.True(t, conv.IsMuted)

	prevDur, ok := s.SetTempMessagesDuration("c1", time.Hour)
	assert.True(t, ok)
	assert.Zero(t, prevDur)

	_, ok = s.SetMuted("missing", true)
	assert.False(t, ok)

	s.ApplyIncomingMessage(msg("m1", "c1", peer, 1))
	assert.True(t, s.SetUnread("c1", 5))
	assert.Equal(t, 5, s.TotalUnread())

	s.Reset()
	assert.Zero(t, s.Len())
}

func TestPresenceLogCompaction(t *testing.T) {
	log := NewPresenceLog(4)
	log.Append(PresenceEvent{UserID: 1, Tier: model.TierOnline, Value: true})
	log.Append(PresenceEvent{UserID: 2, Tier: model.TierInChatList, Value: true})
	log.Append(PresenceEvent{UserID: 1, Tier: model.TierInChatList, Value: true})
	log.Append(PresenceEvent{UserID: 2, Tier: model.TierOnline, Value: false})
	p := log.Append(PresenceEvent{UserID: 1, Tier: model.TierInChatList, Value: false})

	assert.Less(t, log.Len(), 5)
	assert.Equal(t, model.Presence{Online: true}, p)

	all := log.Replay()
	assert.Equal(t, model.Presence{Online: true}, all[1])
	assert.Equal(t, model.Presence{}, all[2])

	_, ok := log.Current(42)
	assert.False(t, ok)
}
