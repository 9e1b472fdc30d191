package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskpilot/pkg/logx"
	"taskpilot/pkg/orchestrator"
	"taskpilot/pkg/server"
	"taskpilot/pkg/taskapi"
)

const chatPrompt = "you> "

// replier turns one user message into the assistant's reply.
type replier interface {
	Reply(ctx context.Context, text string) (string, error)
}

// localReplier runs the pipeline in process.
type localReplier struct {
	orchestrator *orchestrator.Orchestrator
	userID       string
	platform     string
}

func (l *localReplier) Reply(ctx context.Context, text string) (string, error) {
	res := l.orchestrator.Handle(ctx, l.userID, text, l.platform)
	if !res.Success {
		logx.Warnf("Request %s failed: %s", res.RequestID, res.Error)
	}
	return res.Response, nil
}

// remoteReplier posts to a running server.
type remoteReplier struct {
	client     *http.Client
	baseURL    string
	userHeader string
	userID     string
	platform   string
}

func (r *remoteReplier) Reply(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(server.ChatRequest{Text: text, Platform: r.platform})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.baseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(r.userHeader, r.userID)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errors.New("server rejected the user id")
	}
	var res orchestrator.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}
	return res.Response, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		userID     string
		platform   string
		remote     bool
		userHeader string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the pipeline from the terminal",
		Long: `Start an interactive session. Messages run through the pipeline in this
process unless --remote is given, in which case they are posted to --server.

Type /quit or press Ctrl-D to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r replier
			if remote {
				r = &remoteReplier{
					client:     &http.Client{Timeout: 2 * time.Minute},
					baseURL:    opts.serverURL,
					userHeader: userHeader,
					userID:     userID,
					platform:   platform,
				}
			} else {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				a, err := buildApp(cfg, nil)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close() }()
				r = &localReplier{orchestrator: a.orchestrator, userID: userID, platform: platform}
			}
			return runChat(cmd.Context(), r, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser(), "User id to chat as")
	cmd.Flags().StringVarP(&platform, "platform", "p", "baseline", "Platform profile for replies")
	cmd.Flags().BoolVar(&remote, "remote", false, "Send messages to --server instead of running the pipeline locally")
	cmd.Flags().StringVar(&userHeader, "user-header", taskapi.UserHeader, "Identity header used with --remote")
	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// runChat uses line editing when stdin is a terminal and plain line reads otherwise.
func runChat(ctx context.Context, r replier, stdin *os.File, stdout io.Writer) error {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return chatLoop(ctx, scannerLines(stdin), stdout, chatPrompt, r)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{stdin, stdout}, chatPrompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	return chatLoop(ctx, t.ReadLine, t, "", r)
}

func scannerLines(in io.Reader) func() (string, error) {
	sc := bufio.NewScanner(in)
	return func() (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
}

// chatLoop reads lines until EOF, /quit or cancellation, printing each reply.
// prompt is written before every read; term.Terminal draws its own.
func chatLoop(ctx context.Context, readLine func() (string, error), out io.Writer, prompt string, r replier) error {
	fmt.Fprintln(out, "Type a message, /quit to leave.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if prompt != "" {
			fmt.Fprint(out, prompt)
		}
		line, err := readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := r.Reply(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "bot> %s\n", strings.ReplaceAll(reply, "\n", "\n     "))
	}
}
