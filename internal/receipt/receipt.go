package receipt

import (
	"sudooom.im.chatsync/internal/model"
)

// Receipt 外发消息的送达状态
type Receipt int8

const (
	ReceiptNone      Receipt = iota // 不显示（对方发的消息或没有消息）
	ReceiptSent                     // 已发送
	ReceiptDelivered                // 对方正在看会话列表
	ReceiptRead                     // 对方已读
)

func (r Receipt) String() string {
	switch r {
	case ReceiptSent:
		return "sent"
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "none"
	}
}

// MarshalText 供日志与 YAML/JSON 输出
func (r Receipt) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SignalKind 触发状态变化的事件
type SignalKind int8

const (
	SignalPeerOnline   SignalKind = iota + 1 // 对方上线
	SignalPeerOffline                        // 对方离线
	SignalPeerInList                         // 对方进入会话列表
	SignalPeerLeftList                       // 对方离开会话列表
	SignalRead                               // 收到已读回执
	SignalNewOutbound                        // 我发了一条新消息
)

// Signal 状态机输入，PeerInChatList 只在 SignalNewOutbound 时使用
type Signal struct {
	Kind           SignalKind
	PeerInChatList bool
}

// Next 状态转移
// Read 是终态，只有新的外发消息能把它重置
func Next(state Receipt, sig Signal) Receipt {
	switch sig.Kind {
	case SignalNewOutbound:
		if sig.PeerInChatList {
			return ReceiptDelivered
		}
		return ReceiptSent
	case SignalRead:
		if state == ReceiptNone {
			return state
		}
		return ReceiptRead
	case SignalPeerInList:
		if state == ReceiptSent {
			return ReceiptDelivered
		}
	case SignalPeerLeftList, SignalPeerOffline:
		if state == ReceiptDelivered {
			return ReceiptSent
		}
	}
	return state
}

// ForConversation 会话列表上最后一条消息的送达状态
func ForConversation(conv model.Conversation) Receipt {
	switch conv.LastMessageReadState {
	case model.ReadDone:
		return ReceiptRead
	case model.ReadPending:
		if conv.OtherUserInChatList {
			return ReceiptDelivered
		}
		return ReceiptSent
	default:
		return ReceiptNone
	}
}

// ForMessage 单条消息的送达状态，对方发的消息没有回执
func ForMessage(msg model.Message, conv model.Conversation, me int64) Receipt {
	if msg.SenderID != me || conv.Kind != model.KindPeer {
		return ReceiptNone
	}
	if msg.Read {
		return ReceiptRead
	}
	if conv.OtherUserInChatList {
		return ReceiptDelivered
	}
	return ReceiptSent
}
