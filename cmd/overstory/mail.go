package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/mail"
	"github.com/overstoryai/overstory/pkg/models"
)

var (
	mailSendFrom     string
	mailSendTo       string
	mailSendSubject  string
	mailSendBody     string
	mailSendType     string
	mailSendPriority string

	mailCheckPeek bool

	mailReplyFrom string
	mailReplyBody string
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Send and read agent mail",
	Long: `Durable mailbox between agents. Messages survive process crashes;
recipients consume them with check, which drains the inbox exactly once.

Group addresses (@all, @builders, @scouts, @reviewers, @leads) fan out
to the matching live agents, sender excluded.`,
}

var mailSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message to an agent or group",
	RunE:  runMailSend,
}

var mailCheckCmd = &cobra.Command{
	Use:   "check <agent>",
	Short: "Drain an agent's unread mail",
	Long: `Return and consume the agent's unread messages, oldest first. Checking
marks them read in the same step; --peek reads without consuming.`,
	Args: cobra.ExactArgs(1),
	RunE: runMailCheck,
}

var mailThreadCmd = &cobra.Command{
	Use:   "thread <id>",
	Short: "Show a conversation thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailThread,
}

var mailReplyCmd = &cobra.Command{
	Use:   "reply <id>",
	Short: "Reply to a message, joining its thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailReply,
}

func init() {
	mailSendCmd.Flags().StringVar(&mailSendFrom, "from", "", "Sending agent name")
	mailSendCmd.Flags().StringVar(&mailSendTo, "to", "", "Recipient agent or group address")
	mailSendCmd.Flags().StringVar(&mailSendSubject, "subject", "", "Short message summary")
	mailSendCmd.Flags().StringVar(&mailSendBody, "body", "", "Message text")
	mailSendCmd.Flags().StringVar(&mailSendType, "type", string(models.MessageStatus), "Message type")
	mailSendCmd.Flags().StringVar(&mailSendPriority, "priority", "", "Priority override (default derives from type)")

	mailCheckCmd.Flags().BoolVar(&mailCheckPeek, "peek", false, "Read without marking messages consumed")

	mailReplyCmd.Flags().StringVar(&mailReplyFrom, "from", "", "Replying agent name")
	mailReplyCmd.Flags().StringVar(&mailReplyBody, "body", "", "Reply text")

	mailCmd.AddCommand(mailSendCmd)
	mailCmd.AddCommand(mailCheckCmd)
	mailCmd.AddCommand(mailThreadCmd)
	mailCmd.AddCommand(mailReplyCmd)
}

// openMailClient opens the mail store plus the session store backing
// group resolution. The caller must call the returned cleanup.
func openMailClient(stateDir string) (*mail.Client, *mail.Store, func(), error) {
	ms, err := mail.Open(stateDir)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := openSessionStore(stateDir)
	if err != nil {
		ms.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		st.Close()
		ms.Close()
	}
	return mail.NewClient(ms, st), ms, cleanup, nil
}

func runMailSend(cmd *cobra.Command, args []string) error {
	if mailSendFrom == "" || mailSendTo == "" {
		return errs.Validation("--from and --to are required")
	}
	if mailSendSubject == "" {
		return errs.Validation("--subject is required")
	}

	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	client, _, cleanup, err := openMailClient(stateDir)
	if err != nil {
		return err
	}
	defer cleanup()

	mt := models.MessageType(mailSendType)
	priority := models.Priority(mailSendPriority)
	if mailSendPriority == "" {
		priority = mail.DefaultPriority(mt)
	}

	recipients, err := client.Send(models.MailMessage{
		From:     mailSendFrom,
		To:       mailSendTo,
		Subject:  mailSendSubject,
		Body:     mailSendBody,
		Type:     mt,
		Priority: priority,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(map[string]any{"recipients": recipients})
	}
	if len(recipients) == 0 {
		fmt.Printf("no live recipients for %s\n", mailSendTo)
		return nil
	}
	fmt.Printf("sent to %d recipient(s): %s\n", len(recipients), strings.Join(recipients, ", "))
	return nil
}

func runMailCheck(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	client, store, cleanup, err := openMailClient(stateDir)
	if err != nil {
		return err
	}
	defer cleanup()

	var msgs []models.MailMessage
	if mailCheckPeek {
		msgs, err = store.GetUnread(args[0])
	} else {
		msgs, err = client.Check(args[0])
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Printf("no unread mail for %s\n", args[0])
		return nil
	}
	fmt.Println(mail.RenderInbox(msgs))
	return nil
}

func runMailThread(cmd *cobra.Command, args []string) error {
	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	ms, err := mail.Open(stateDir)
	if err != nil {
		return err
	}
	defer ms.Close()

	msgs, err := ms.GetByThread(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Printf("no messages in thread %s\n", args[0])
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("%s  %s -> %s  [%s] %s\n",
			m.CreatedAt.Local().Format("15:04:05"), m.From, m.To, m.Type, m.Subject)
		if m.Body != "" && m.Body != m.Subject {
			fmt.Printf("    %s\n", m.Body)
		}
	}
	return nil
}

func runMailReply(cmd *cobra.Command, args []string) error {
	if mailReplyFrom == "" {
		return errs.Validation("--from is required")
	}
	if mailReplyBody == "" {
		return errs.Validation("--body is required")
	}

	stateDir, err := requireStateDir()
	if err != nil {
		return err
	}
	client, _, cleanup, err := openMailClient(stateDir)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := client.Reply(args[0], mailReplyFrom, mailReplyBody)
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(map[string]string{"id": id})
	}
	fmt.Printf("replied (message %s)\n", id)
	return nil
}
