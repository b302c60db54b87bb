package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/karbit/chatrelay/pkg/client"
	"github.com/karbit/chatrelay/pkg/logger"
)

type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	s *bufio.Scanner
}

func (r scannerReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

type sender interface {
	Send(ctx context.Context, text string) (*client.Reply, error)
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var showRoute bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the workflow interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				in := scannerReader{s: bufio.NewScanner(cmd.InOrStdin())}
				return chatLoop(cmd.Context(), in, cmd.OutOrStdout(), c, showRoute)
			}

			// Log lines written to stderr in raw mode do not return to
			// column 0 and would break up the conversation.
			opts.quietLogs(logger.WARN)

			oldState, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("entering raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)

			// The terminal echoes input, keeps history and turns \n into \r\n
			// while in raw mode, so replies are written through it too.
			t := term.NewTerminal(stdio{}, "you> ")
			fmt.Fprintf(t, "Connected as %s. Type /quit to leave.\n", c.Session().UserID)
			return chatLoop(cmd.Context(), t, t, c, showRoute)
		},
	}
	cmd.Flags().BoolVar(&showRoute, "show-route", false, "print which transport answered")
	return cmd
}

// chatLoop reads lines until EOF or /quit. Send errors are printed and the
// loop continues.
func chatLoop(ctx context.Context, in lineReader, out io.Writer, c sender, showRoute bool) error {
	for {
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := c.Send(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if s := client.Suggestion(err); s != "" {
				fmt.Fprintf(out, "hint: %s\n", s)
			}
			continue
		}

		if showRoute {
			fmt.Fprintf(out, "bot [%s]> %s\n", reply.Route, reply.Text)
		} else {
			fmt.Fprintf(out, "bot> %s\n", reply.Text)
		}
	}
}
