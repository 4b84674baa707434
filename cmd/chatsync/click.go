package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/notify"
	"sudooom.im.chatsync/pkg/proto"
)

// newClickCommand 通知进程在引擎不在前台时回传点击
func newClickCommand(opts *rootOptions) *cobra.Command {
	var (
		conversationID string
		kind           string
	)

	cmd := &cobra.Command{
		Use:   "click",
		Short: "Queue a notification click for the running agent",
		Long: `Queue a notification click for delivery the next time the agent
becomes active. The agent opens the conversation once it drains the queue.

Example:
  chatsync click --conversation 8f1c --kind peer --token $TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			id, err := identity(cfg)
			if err != nil {
				return err
			}
			k := model.Kind(kind)
			if kind != "" && !k.Valid() {
				return fmt.Errorf("invalid kind %q", kind)
			}

			rdb := kv.NewRedisClient(cfg.Redis)
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			click := proto.NotificationClick{Tag: conversationID, ConversationID: conversationID, Kind: k}
			if err := notify.NewClickQueue(rdb, id.UserID).Push(ctx, click); err != nil {
				return err
			}
			slog.Info("Notification click queued", "userId", id.UserID, "conversationId", conversationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "conversation kind (assistant|peer)")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}
