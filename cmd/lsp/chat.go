package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
	"github.com/775kkk/logic-signal-protector-sub000/internal/telegraph"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// chatChannel is the channel name terminal conversations are routed under.
const chatChannel = "terminal"

func newChatCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the router from the terminal",
		Long: `Starts an interactive terminal conversation with the command router.

Responses are rendered as plain text. Buttons are numbered; type the number
to press one. Passwords are read without echo when stdin is a terminal.
Type /quit or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "external user id (defaults to the OS user)")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, userID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	log := zap.NewNop()
	if debugLogging {
		if log, err = newLogger(); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer log.Sync()
	}

	st, err := buildStack(cfg, gormDB, log)
	if err != nil {
		return err
	}

	if userID == "" {
		userID = defaultChatUser()
	}
	return chatLoop(context.Background(), chatOpts{
		Handler: st.router,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		UserID:  userID,
		Secret:  terminalSecret(cmd.InOrStdin(), cmd.OutOrStdout()),
	})
}

func defaultChatUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// chatOpts holds the inputs of one terminal conversation.
type chatOpts struct {
	Handler telegraph.Handler
	In      io.Reader
	Out     io.Writer
	UserID  string
	// Secret reads hidden input while credentials are awaited. Nil reads
	// from In like any other line.
	Secret func() (string, error)
}

// chatLoop reads lines, routes them and prints plain-text responses until
// EOF or /quit.
func chatLoop(ctx context.Context, opts chatOpts) error {
	reader := bufio.NewReader(opts.In)
	out := opts.Out
	var (
		buttons  []string
		awaiting bool
	)

	fmt.Fprintln(out, "Connected. Type /help to start, a number to press a button, /quit to leave.")
	for {
		fmt.Fprint(out, "> ")

		var (
			line string
			err  error
		)
		if awaiting && opts.Secret != nil {
			line, err = opts.Secret()
		} else {
			line, err = reader.ReadString('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("chat: read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)
		if line == "/quit" || line == "/exit" || (eof && line == "") {
			fmt.Fprintln(out)
			return nil
		}

		env := router.Envelope{
			Channel:        chatChannel,
			ExternalUserID: opts.UserID,
			ChatID:         chatChannel,
			CorrelationID:  uuid.NewString(),
		}
		if n, convErr := strconv.Atoi(line); convErr == nil && !awaiting && n >= 1 && n <= len(buttons) {
			env.CallbackData = buttons[n-1]
		} else {
			env.Text = line
		}

		resp, err := opts.Handler.Route(ctx, env)
		if err != nil {
			return fmt.Errorf("chat: route: %w", err)
		}
		fmt.Fprintln(out, telegraph.PlainText(resp))

		buttons = telegraph.Buttons(resp)
		awaiting = resp.UIHints[router.HintAwaiting] != ""
		if eof {
			return nil
		}
	}
}

// terminalSecret returns a no-echo reader when in is a terminal, or nil.
func terminalSecret(in io.Reader, out io.Writer) func() (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func() (string, error) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out) // New line after hidden input
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
}
