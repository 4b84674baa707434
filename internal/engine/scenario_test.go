package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"sudooom.im.chatsync/internal/model"
)

// scenario 两个客户端（A=1, B=2）共用一个内存服务端的脚本
type scenario struct {
	Name          string            `yaml:"name"`
	Conversations []scenarioConv    `yaml:"conversations"`
	Messages      []scenarioMessage `yaml:"messages"`
	Steps         []scenarioStep    `yaml:"steps"`
}

type scenarioConv struct {
	ID           string     `yaml:"id"`
	Kind         model.Kind `yaml:"kind"`
	Participants []int64    `yaml:"participants"`
}

type scenarioMessage struct {
	ID           string `yaml:"id"`
	Conversation string `yaml:"conversation"`
	Sender       int64  `yaml:"sender"`
	Content      string `yaml:"content"`
	At           int    `yaml:"at"`
}

type scenarioStep struct {
	Name         string          `yaml:"name"`
	Do           string          `yaml:"do"`
	As           string          `yaml:"as"`
	Conversation string          `yaml:"conversation"`
	Content      string          `yaml:"content"`
	Expect       *scenarioExpect `yaml:"expect"`
}

type scenarioExpect struct {
	Client       string   `yaml:"client"`
	Conversation string   `yaml:"conversation"`
	Present      *bool    `yaml:"present"`
	Unread       *int     `yaml:"unread"`
	Receipt      string   `yaml:"receipt"`
	LastMessage  string   `yaml:"lastMessage"`
	Messages     *int     `yaml:"messages"`
	Order        []string `yaml:"order"`
	Notified     *int     `yaml:"notified"`
	TotalUnread  *int     `yaml:"totalUnread"`
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		var sc scenario
		require.NoError(t, yaml.Unmarshal(data, &sc), file)

		t.Run(sc.Name, func(t *testing.T) {
			runScenario(t, sc)
		})
	}
}

func runScenario(t *testing.T, sc scenario) {
	h := newHarness(t)
	for _, c := range sc.Conversations {
		h.server.addConversation(c.ID, c.Kind, c.Participants...)
	}
	for _, m := range sc.Messages {
		h.server.addMessage(m.Conversation, m.ID, m.Sender, m.Content, m.At)
	}

	clients := map[string]*testClient{
		"A": h.start(userA, nil),
		"B": h.start(userB, nil),
	}
	lookup := func(i int, name string) *testClient {
		c, ok := clients[name]
		require.True(t, ok, "step %d: unknown client %q", i, name)
		return c
	}

	for i, step := range sc.Steps {
		if step.Expect != nil {
			expect(t, i, lookup(i, step.Expect.Client), *step.Expect)
			continue
		}
		require.NoError(t, apply(lookup(i, step.As), step), "step %d (%s)", i, step.Name)
	}
}

func apply(c *testClient, step scenarioStep) error {
	ctx := context.Background()
	e := c.engine
	switch step.Do {
	case "send":
		_, err := e.SendMessage(ctx, step.Conversation, step.Content, model.MessageTypeText)
		return err
	case "delete":
		return e.DeleteConversation(ctx, step.Conversation)
	case "open":
		return e.OpenConversation(ctx, step.Conversation, "")
	case "close":
		return e.CloseConversation(ctx)
	case "openList":
		return e.OpenList(ctx)
	case "closeList":
		return e.CloseList(ctx)
	case "markRead":
		return e.MarkRead(ctx, step.Conversation)
	case "poll":
		conv, ok, err := e.Conversation(ctx, step.Conversation)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("poll: conversation %s not listed", step.Conversation)
		}
		if err := e.FetchConversation(ctx, conv.ID, conv.Kind); err != nil {
			return err
		}
		// 等合并写入
		_, err = e.Snapshot(ctx)
		return err
	}
	return fmt.Errorf("unknown action %q", step.Do)
}

// expect 推送异步到达，在超时前反复检查
func expect(t *testing.T, i int, c *testClient, exp scenarioExpect) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		mismatch := check(c, exp)
		if mismatch == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("step %d: client %d: %s", i, c.id, mismatch)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func check(c *testClient, exp scenarioExpect) string {
	ctx := context.Background()
	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		return err.Error()
	}

	var problems []string
	if exp.Order != nil {
		ids := make([]string, 0, len(snap.Conversations))
		for _, conv := range snap.Conversations {
			ids = append(ids, conv.ID)
		}
		if !slices.Equal(ids, exp.Order) {
			problems = append(problems, fmt.Sprintf("order = %v, want %v", ids, exp.Order))
		}
	}
	if exp.TotalUnread != nil && snap.TotalUnread != *exp.TotalUnread {
		problems = append(problems, fmt.Sprintf("totalUnread = %d, want %d", snap.TotalUnread, *exp.TotalUnread))
	}
	if exp.Notified != nil {
		if n := c.surface.shownCount(); n != *exp.Notified {
			problems = append(problems, fmt.Sprintf("notified = %d, want %d", n, *exp.Notified))
		}
	}
	if exp.Conversation == "" {
		return strings.Join(problems, "; ")
	}

	idx := slices.IndexFunc(snap.Conversations, func(conv model.Conversation) bool {
		return conv.ID == exp.Conversation
	})
	if exp.Present != nil && (idx >= 0) != *exp.Present {
		problems = append(problems, fmt.Sprintf("%s present = %t, want %t", exp.Conversation, idx >= 0, *exp.Present))
	}
	if idx < 0 {
		if exp.Present == nil {
			problems = append(problems, exp.Conversation+" missing")
		}
		return strings.Join(problems, "; ")
	}

	conv := snap.Conversations[idx]
	if exp.Unread != nil && conv.UnreadCount != *exp.Unread {
		problems = append(problems, fmt.Sprintf("unread = %d, want %d", conv.UnreadCount, *exp.Unread))
	}
	if exp.Receipt != "" {
		if got := c.receipt(conv.ID).String(); got != exp.Receipt {
			problems = append(problems, fmt.Sprintf("receipt = %s, want %s", got, exp.Receipt))
		}
	}
	if exp.LastMessage != "" {
		got := ""
		if conv.LastMessage != nil {
			got = conv.LastMessage.Preview
		}
		if got != exp.LastMessage {
			problems = append(problems, fmt.Sprintf("lastMessage = %q, want %q", got, exp.LastMessage))
		}
	}
	if exp.Messages != nil {
		views, err := c.engine.Messages(ctx, conv.ID)
		if err != nil {
			return err.Error()
		}
		if len(views) != *exp.Messages {
			problems = append(problems, fmt.Sprintf("messages = %d, want %d", len(views), *exp.Messages))
		}
	}
	return strings.Join(problems, "; ")
}
