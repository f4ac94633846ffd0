package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive consultation",
	Long: `Start an interactive consultation against the configured model.
Type a message and press enter. Commands:
  /new                 start a new conversation
  /specialty <name>    switch specialty (general, radiology, cardiology, ...)
  /rag on|off          force retrieval for every turn
  /sessions            active conversations in this process
  /history             stored conversations for this owner
  /stats               cache, lock and turn statistics
  /events              recent turn events
  /quit                exit`,
	RunE: runChat,
}

var chatSpecialty string

func init() {
	chatCmd.Flags().StringVarP(&chatSpecialty, "specialty", "s", "general",
		`initial specialty --specialty <string> | example: --specialty=cardiology`)
	rootCmd.AddCommand(chatCmd)
}

type chatSession struct {
	engine         *engine
	out            io.Writer
	ownerID        string
	specialty      domain.Specialty
	conversationID uuid.UUID
	forceRAG       bool
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Stop()

	specialty, ok := domain.ParseSpecialty(chatSpecialty)
	if !ok {
		logrus.Warnf("[CHAT] Unknown specialty %q, using general", chatSpecialty)
	}

	s := &chatSession{
		engine:    e,
		out:       cmd.OutOrStdout(),
		ownerID:   cfg.App.OwnerID,
		specialty: specialty,
	}
	fmt.Fprintf(s.out, "az-medchat %s | specialty: %s | /quit to exit\n", cfg.App.Version, s.specialty)

	return s.loop(ctx, cmd.InOrStdin())
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	for {
		fmt.Fprint(s.out, "> ")
		var (
			raw string
			ok  bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case raw, ok = <-lines:
		}
		if !ok {
			return <-readErr
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(ctx, line); quit {
				return nil
			}
			continue
		}
		s.send(ctx, line)
	}
}

// readLines lee en una goroutine para que el loop pueda atender ctx mientras
// stdin está bloqueado. El error de lectura se entrega al cerrar lines.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

func (s *chatSession) send(ctx context.Context, text string) {
	resp, err := s.engine.chat.ProcessMessage(ctx, domain.ChatRequest{
		ConversationID: s.conversationID,
		OwnerID:        s.ownerID,
		Message:        text,
		Specialty:      s.specialty,
		IncludeRAG:     s.forceRAG,
	})
	if err != nil {
		var genErr *domain.GenerationError
		if errors.As(err, &genErr) {
			fmt.Fprintf(s.out, "! the model did not answer (%s). Please try again.\n", genErr.Elapsed.Round(time.Millisecond))
			s.conversationID = uuid.MustParse(genErr.ConversationID)
			return
		}
		fmt.Fprintf(s.out, "! %v\n", err)
		return
	}

	s.conversationID = resp.ConversationID
	fmt.Fprintf(s.out, "\n%s\n\n  [%s · %s]\n", resp.Reply, resp.Model, resp.Elapsed.Round(time.Millisecond))
}

func (s *chatSession) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/new":
		s.conversationID = uuid.Nil
		fmt.Fprintln(s.out, "new conversation")
	case "/specialty":
		if len(fields) < 2 {
			fmt.Fprintf(s.out, "current specialty: %s\n", s.specialty)
			return false
		}
		sp, ok := domain.ParseSpecialty(fields[1])
		if !ok {
			fmt.Fprintf(s.out, "unknown specialty %q\n", fields[1])
			return false
		}
		s.specialty = sp
		s.conversationID = uuid.Nil
		fmt.Fprintf(s.out, "specialty set to %s, new conversation\n", sp)
	case "/rag":
		s.forceRAG = len(fields) > 1 && fields[1] == "on"
		fmt.Fprintf(s.out, "forced retrieval: %v\n", s.forceRAG)
	case "/sessions":
		s.printSessions()
	case "/history":
		s.printHistory(ctx)
	case "/stats":
		s.printStats()
	case "/events":
		s.printEvents()
	default:
		fmt.Fprintf(s.out, "unknown command %s\n", fields[0])
	}
	return false
}

func (s *chatSession) printSessions() {
	sessions := s.engine.manager.GetUserActiveSessions(s.ownerID)
	if len(sessions) == 0 {
		fmt.Fprintln(s.out, "no active conversations")
		return
	}
	for _, sess := range sessions {
		marker := " "
		if sess.ConversationID == s.conversationID {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %s  %-11s  %3d msgs  %s tokens  %s\n",
			marker,
			sess.ConversationID,
			sess.Specialty,
			sess.MessageCount,
			humanize.Comma(int64(sess.TokenCount)),
			humanize.Time(sess.LastActivity),
		)
	}
}

func (s *chatSession) printHistory(ctx context.Context) {
	metas, err := s.engine.chat.History(ctx, s.ownerID)
	if err != nil {
		fmt.Fprintf(s.out, "! %v\n", err)
		return
	}
	if len(metas) == 0 {
		fmt.Fprintln(s.out, "no stored conversations")
		return
	}
	for _, m := range metas {
		fmt.Fprintf(s.out, "  %s  %-28s  updated %s\n", m.ID, m.Title, humanize.Time(m.UpdatedAt))
	}
}

func (s *chatSession) printStats() {
	stats := s.engine.manager.Stats()
	pool := s.engine.pool.Stats()
	fmt.Fprintf(s.out, "conversations: %s/%s  owners: %d  locks: %d  ttl: %s\n",
		humanize.Comma(int64(stats.Cache.Resident)),
		humanize.Comma(int64(stats.Cache.Capacity)),
		stats.Cache.Owners,
		stats.Locks,
		stats.Cache.TTL,
	)
	fmt.Fprintf(s.out, "persistence: %d written, %d dropped, %d failed\n",
		pool.TotalProcessed, pool.TotalDropped, pool.TotalErrors)
	if s.engine.monitor != nil {
		turns := s.engine.monitor.Stats()
		fmt.Fprintf(s.out, "turns: %d received, %d replied, %d errors\n",
			turns.TotalInbound, turns.TotalReplies, turns.TotalErrors)
	}
}

func (s *chatSession) printEvents() {
	if s.engine.monitor == nil {
		return
	}
	events := s.engine.monitor.Stats().RecentEvents
	if len(events) == 0 {
		fmt.Fprintln(s.out, "no events")
		return
	}
	for _, ev := range events {
		line := fmt.Sprintf("  %s  %-10s %-5s %6dms  %s", humanize.Time(ev.Timestamp), ev.Stage, ev.Status, ev.DurationMs, ev.ConversationID)
		if ev.Error != "" {
			line += "  " + ev.Error
		}
		fmt.Fprintln(s.out, line)
	}
}
