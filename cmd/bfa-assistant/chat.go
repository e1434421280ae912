package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bfalabs/bfa-assistant/internal/chatclient"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with a running assistant from the terminal",
	Long: `Without arguments chat opens an interactive terminal client.
With a message it asks once, prints the reasoning and the reply, and exits.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := chatclient.New(viper.GetString("server"))
		personID := strings.TrimSpace(viper.GetString("person"))
		if personID != "" {
			if _, err := client.CreateSession(ctx, personID); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		}

		if len(args) > 0 {
			return askOnce(ctx, client, strings.Join(args, " "), cmd.OutOrStdout())
		}
		p := tea.NewProgram(newChatModel(ctx, client, personID), tea.WithContext(ctx))
		_, err := p.Run()
		return err
	},
}

func init() {
	chatCmd.Flags().String("server", "http://127.0.0.1:5000", "assistant base URL")
	chatCmd.Flags().String("person", "", "person id to log in as")
	_ = viper.BindPFlag("server", chatCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("person", chatCmd.Flags().Lookup("person"))
}

func askOnce(ctx context.Context, client *chatclient.Client, message string, out io.Writer) error {
	reply, err := client.Ask(ctx, message, nil)
	if thinking := reply.Thinking(); thinking != "" {
		fmt.Fprintln(out, thinkingStyle.Render(thinking))
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, reply.Text())
	return err
}
