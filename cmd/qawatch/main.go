// Command qawatch follows the Q&A thread of a course or lesson in the
// terminal. It prints the thread on every change and reads actions from
// stdin; type "help" for the list.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/UkralStul/lesson-qa-sync/internal/api"
	"github.com/UkralStul/lesson-qa-sync/internal/config"
	"github.com/UkralStul/lesson-qa-sync/internal/qa"
	"github.com/UkralStul/lesson-qa-sync/internal/session"
	"github.com/UkralStul/lesson-qa-sync/internal/transport"
	"github.com/UkralStul/lesson-qa-sync/internal/view"
)

func main() {
	cfg := config.LoadClient()
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "REST base URL")
	flag.StringVar(&cfg.HubURL, "hub", cfg.HubURL, "push hub websocket URL, empty for REST-only")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "access token")
	flag.StringVar(&cfg.CourseID, "course", cfg.CourseID, "course id")
	flag.StringVar(&cfg.LessonID, "lesson", cfg.LessonID, "lesson id, wins over -course")
	flag.DurationVar(&cfg.Highlight, "highlight", cfg.Highlight, "how long a deep-linked item stays highlighted")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "REST request timeout")
	focus := flag.String("focus", "", "deep link query, e.g. focusQuestion=7&focusReply=9")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.Level(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	values, err := url.ParseQuery(*focus)
	if err != nil {
		logger.Error("Invalid -focus", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.New(cfg.APIURL, cfg.Token,
		api.WithLogger(logger),
		api.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	sc := session.Config{
		Scope:             qa.Scope{CourseID: cfg.CourseID, LessonID: cfg.LessonID},
		API:               client,
		Focus:             view.ParseTarget(values),
		HighlightDuration: cfg.Highlight,
		Logger:            logger,
	}
	if cfg.PushEnabled() {
		sc.Dial = session.WebsocketDialer(cfg.HubURL, cfg.Token, transport.DefaultSettings(), logger)
	}

	s, err := session.Open(ctx, sc)
	if err != nil {
		logger.Error("Failed to open session", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(closeCtx)
	}()

	w := &watcher{session: s, out: os.Stdout, lecture: view.AllLectures}
	cancel := s.Subscribe(w.render)
	defer cancel()
	w.render()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := w.run(ctx, line); quit {
				return
			}
		}
	}
}

type watcher struct {
	session *session.Session
	out     io.Writer

	mu      sync.Mutex
	query   string
	lecture string
}

func (w *watcher) filters() (string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.query, w.lecture
}

func (w *watcher) render() {
	query, lecture := w.filters()
	questions := w.session.View(query, lecture)
	focus := w.session.Focus()

	var b strings.Builder
	fmt.Fprintf(&b, "\n== %s | %d questions | search %q | %s ==\n", w.session.Scope().Group(), len(questions), query, lecture)
	for _, q := range questions {
		mark := " "
		if focus.QuestionID == q.ID || focus.Parent == q.ID {
			mark = ">"
		}
		fmt.Fprintf(&b, "%s [%s] %s  (%s%s, %s, %d votes)\n", mark, q.ID, q.Title, q.AuthorName, instructorTag(q.IsInstructor), status(q.ID, q.CreatedAt), q.UpvoteCount)
		if q.Lecture != "" {
			fmt.Fprintf(&b, "    lecture: %s\n", q.Lecture)
		}
		for _, r := range q.Replies {
			rmark := " "
			if focus.ReplyID == r.ID {
				rmark = ">"
			}
			voted := ""
			if r.UserHasUpvoted {
				voted = ", voted"
			}
			fmt.Fprintf(&b, "  %s  [%s] %s: %s  (%s, %d votes%s)\n", rmark, r.ID, r.AuthorName+instructorTag(r.IsInstructor), r.Body, status(r.ID, r.CreatedAt), r.UpvoteCount, voted)
		}
	}
	fmt.Fprint(w.out, b.String())
}

func instructorTag(is bool) string {
	if is {
		return " [instructor]"
	}
	return ""
}

func status(id qa.ID, createdAt string) string {
	if id.IsTemporary() {
		return "sending..."
	}
	return createdAt
}

const help = `commands:
  ask <title> | <body>        reply <question> <body>
  upvote <question> <reply>   unvote <question> <reply>
  edit <question> <body>      edit-reply <question> <reply> <body>
  delete <question>           delete-reply <question> <reply>
  report <question|reply> <id> <reason>
  search <text>               lecture <name|all>       lectures
  focus <question>[/<reply>]  refresh                  quit`

// run executes one command line and reports whether to quit.
func (w *watcher) run(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	args := strings.Fields(rest)
	arg := func(i int) qa.ID {
		if i < len(args) {
			return qa.NormalizeID(args[i])
		}
		return ""
	}
	tail := func(n int) string {
		f := strings.SplitN(rest, " ", n+1)
		if len(f) <= n {
			return ""
		}
		return strings.TrimSpace(f[n])
	}

	var err error
	switch cmd {
	case "":
		return false
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(w.out, help)
	case "ask":
		title, body, _ := strings.Cut(rest, "|")
		_, err = w.session.AskQuestion(ctx, qa.QuestionDraft{Title: strings.TrimSpace(title), Body: strings.TrimSpace(body)})
	case "reply":
		_, err = w.session.Reply(ctx, arg(0), qa.ReplyDraft{Body: tail(1)})
	case "upvote":
		err = w.session.Upvote(ctx, arg(0), arg(1))
	case "unvote":
		err = w.session.Unvote(ctx, arg(0), arg(1))
	case "edit":
		err = w.session.EditQuestion(ctx, arg(0), tail(1))
	case "edit-reply":
		err = w.session.EditReply(ctx, arg(0), arg(1), tail(2))
	case "delete":
		err = w.session.DeleteQuestion(ctx, arg(0))
	case "delete-reply":
		err = w.session.DeleteReply(ctx, arg(0), arg(1))
	case "report":
		if len(args) < 2 {
			err = fmt.Errorf("usage: report <question|reply> <id> <reason>")
			break
		}
		err = w.session.Report(ctx, args[0], arg(1), tail(2))
	case "search":
		w.mu.Lock()
		w.query = rest
		w.mu.Unlock()
		w.render()
	case "lecture":
		w.mu.Lock()
		w.lecture = rest
		if rest == "" || rest == "all" {
			w.lecture = view.AllLectures
		}
		w.mu.Unlock()
		w.render()
	case "lectures":
		fmt.Fprintln(w.out, strings.Join(w.session.Lectures(), "\n"))
	case "focus":
		qid, rid, _ := strings.Cut(rest, "/")
		w.session.Navigate(view.Target{QuestionID: qa.NormalizeID(qid), ReplyID: qa.NormalizeID(rid)})
		w.render()
	case "refresh":
		err = w.session.Refresh(ctx)
	default:
		err = fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		fmt.Fprintf(w.out, "error: %v\n", err)
	}
	return false
}
