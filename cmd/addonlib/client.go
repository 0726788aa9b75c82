package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/addonlib/internal/app"
	"github.com/dshills/addonlib/internal/chatcmd"
	"github.com/dshills/addonlib/internal/notice"
)

var (
	clientPlayer string
	clientLocale string
	clientURL    string
)

func init() {
	clientCmd.Flags().StringVarP(&clientPlayer, "player", "p", "", "player id to connect as")
	clientCmd.Flags().StringVar(&clientLocale, "locale", "", "locale for server notifications")
	clientCmd.Flags().StringVar(&clientURL, "url", "", "server url (overrides client.url)")
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a server and read commands from stdin",
	Long: `Connect to a server, mirror its settings and read lines from stdin:

  !command args     send a chat command, e.g. !addonmenu
  get MODULE.NAME   print a value
  set MODULE.NAME V change a value
  quit              disconnect`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, _, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if clientURL != "" {
			cfg.Client.URL = clientURL
		}

		out := cmd.OutOrStdout()
		c, err := app.NewClient(cmd.Context(), app.ClientOptions{
			Config: cfg,
			Logger: logger,
			Player: clientPlayer,
			Locale: clientLocale,
			OnNotice: func(p notice.Payload) {
				fmt.Fprintf(out, "[%s] %s\n", p.Level, p.Text)
			},
			OnMenu: func(p chatcmd.MenuPayload) {
				printMenu(out, p)
			},
		})
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return c.Run(gctx)
		})
		g.Go(func() error {
			wctx, wcancel := context.WithTimeout(gctx, 30*time.Second)
			defer wcancel()
			if err := c.WaitSynced(wctx); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			fmt.Fprintln(out, "connected; settings received")
			defer cancel()
			return repl(gctx, c, cmd.InOrStdin(), out)
		})
		return g.Wait()
	},
}

func repl(ctx context.Context, c *app.Client, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if line == "quit" {
			return nil
		}
		if err := handleLine(ctx, c, line, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func handleLine(ctx context.Context, c *app.Client, line string, out io.Writer) error {
	if strings.HasPrefix(line, "!") || strings.HasPrefix(line, "/") {
		return c.Say(ctx, line)
	}
	fields := strings.Fields(line)
	switch {
	case fields[0] == "get" && len(fields) == 2:
		id, name, err := splitRef(fields[1])
		if err != nil {
			return err
		}
		m, err := c.Registry().Module(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s.%s = %v\n", id, name, m.GetValue(name))
		return nil
	case fields[0] == "set" && len(fields) >= 3:
		id, name, err := splitRef(fields[1])
		if err != nil {
			return err
		}
		return c.Set(ctx, id, name, parseValue(strings.Join(fields[2:], " ")))
	}
	return fmt.Errorf("unknown input %q", line)
}

func splitRef(ref string) (string, string, error) {
	id, name, ok := strings.Cut(ref, ".")
	if !ok || id == "" || name == "" {
		return "", "", fmt.Errorf("expected MODULE.NAME, got %q", ref)
	}
	return id, name, nil
}

func parseValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func printMenu(out io.Writer, p chatcmd.MenuPayload) {
	fmt.Fprintf(out, "== %s ==\n", p.Title)
	for _, m := range p.Modules {
		fmt.Fprintf(out, "%s (%s, %s)\n", m.Label, m.ID, m.Scope)
		for _, v := range m.Variables {
			fmt.Fprintf(out, "  %-20s %v\n", v.Name, v.Value)
		}
	}
}
