// Package cli implements the diary command line client: sign-in, reading and
// writing entries, photos, calendars and prompts against the diary API.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/familydiary/diary/internal/apiclient"
	"github.com/familydiary/diary/internal/calendar"
	"github.com/familydiary/diary/internal/entrykey"
	"github.com/familydiary/diary/internal/models"
	"github.com/familydiary/diary/internal/session"
)

const usage = `usage: diary <command> [flags]

commands:
  login -user NAME            sign in (password read from stdin)
  new-password -user NAME -session TOKEN
                              answer a password change challenge (new password read from stdin)
  logout                      forget the stored session
  status                      show the sign-in state
  show [-private] [DATE]      print an entry (DATE defaults to today)
  write [-private] [-photo URL] [DATE] [TEXT...]
                              save an entry (TEXT read from stdin when omitted)
  delete [-private] [DATE]    delete an entry
  photo [-private] DATE FILE  upload a photo and attach it to the entry
  recent                      list your latest entries
  calendar [family|mine] [-month YYYY-MM] [-prompts] [-private-only]
                              print a month grouped by day
  prompt [DATE]               print the writing prompt of a day`

// SessionManager is the sign-in state used by the commands. *session.Manager
// satisfies it.
type SessionManager interface {
	SignIn(ctx context.Context, username, password string) (session.Session, error)
	CompleteChallenge(ctx context.Context, username, newPassword, challengeSession string) (session.Session, error)
	SignOut() error
	State() session.State
	Current() (session.Session, error)
}

// DiaryAPI is the API surface used by the commands. *apiclient.Client
// satisfies it.
type DiaryAPI interface {
	Health(ctx context.Context) (models.Health, error)
	Recent(ctx context.Context) ([]models.DiaryEntry, error)
	GetEntry(ctx context.Context, key entrykey.Key) (models.DiaryEntry, error)
	SaveEntry(ctx context.Context, key entrykey.Key, text, photoURL string) (models.DiaryEntry, error)
	DeleteEntry(ctx context.Context, key entrykey.Key) error
	UploadPhoto(ctx context.Context, key entrykey.Key, image []byte) (string, error)
	FamilyCalendar(ctx context.Context, year, month int) (models.CalendarPage, error)
	MyCalendar(ctx context.Context, year, month int) (models.CalendarPage, error)
	Prompt(ctx context.Context, date string) (models.DailyPrompt, error)
}

// Env holds the collaborators and streams of one invocation.
type Env struct {
	Sessions SessionManager
	API      DiaryAPI
	Stdin    io.Reader
	Stdout   io.Writer
	Now      func() time.Time
	// ReadFile loads photo files; defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)

	lines *bufio.Scanner
}

// Run executes one command.
func Run(ctx context.Context, args []string, env *Env) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.ReadFile == nil {
		env.ReadFile = os.ReadFile
	}
	if env.Stdin == nil {
		env.Stdin = strings.NewReader("")
	}
	env.lines = nil

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "login":
		err = env.login(ctx, rest)
	case "new-password":
		err = env.newPassword(ctx, rest)
	case "logout":
		err = env.Sessions.SignOut()
		if err == nil {
			fmt.Fprintln(env.Stdout, "signed out")
		}
	case "status":
		err = env.status(ctx)
	case "show":
		err = env.show(ctx, rest)
	case "write":
		err = env.write(ctx, rest)
	case "delete":
		err = env.delete(ctx, rest)
	case "photo":
		err = env.photo(ctx, rest)
	case "recent":
		err = env.recent(ctx)
	case "calendar":
		err = env.calendar(ctx, rest)
	case "prompt":
		err = env.prompt(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(env.Stdout, usage)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	if errors.Is(err, apiclient.ErrAuthorizationExpired) {
		return errors.New("session expired: run `diary login`")
	}
	return err
}

func (e *Env) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	user := fs.String("user", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("login: -user is required")
	}

	password, err := e.readLine("Password: ")
	if err != nil {
		return err
	}

	s, err := e.Sessions.SignIn(ctx, *user, password)
	var challenge *session.ChallengeRequiredError
	if errors.As(err, &challenge) {
		fmt.Fprintln(e.Stdout, "A new password is required.")
		newPassword, readErr := e.readLine("New password: ")
		if readErr != nil {
			fmt.Fprintf(e.Stdout, "run: diary new-password -user %s -session %s\n", *user, challenge.Session)
			return readErr
		}
		s, err = e.Sessions.CompleteChallenge(ctx, *user, newPassword, challenge.Session)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(e.Stdout, "signed in as %s until %s\n", entrykey.DisplayName(s.UserID), s.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}

func (e *Env) newPassword(ctx context.Context, args []string) error {
	fs := newFlagSet("new-password")
	user := fs.String("user", "", "username")
	challengeSession := fs.String("session", "", "challenge session printed by login")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *challengeSession == "" {
		return errors.New("new-password: -user and -session are required")
	}

	newPassword, err := e.readLine("New password: ")
	if err != nil {
		return err
	}
	s, err := e.Sessions.CompleteChallenge(ctx, *user, newPassword, *challengeSession)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Stdout, "password changed; signed in as %s\n", entrykey.DisplayName(s.UserID))
	return nil
}

func (e *Env) status(ctx context.Context) error {
	state := e.Sessions.State()
	fmt.Fprintf(e.Stdout, "state: %s\n", state)

	s, err := e.Sessions.Current()
	if err != nil {
		return err
	}
	if s.UserID != "" {
		fmt.Fprintf(e.Stdout, "user: %s\n", entrykey.DisplayName(s.UserID))
	}
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(e.Stdout, "token expires: %s\n", s.ExpiresAt.Local().Format(time.RFC3339))
	}

	health, err := e.API.Health(ctx)
	if err != nil {
		fmt.Fprintf(e.Stdout, "api: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(e.Stdout, "api: %s\n", health.Status)
	return nil
}

func (e *Env) show(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	private := fs.Bool("private", false, "show the private entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, _, err := e.entryKey(fs.Args(), *private)
	if err != nil {
		return err
	}

	entry, err := e.API.GetEntry(ctx, key)
	if apiclient.IsNotFound(err) {
		fmt.Fprintf(e.Stdout, "no %s entry for %s\n", key.Visibility, key.Date)
		return nil
	}
	if err != nil {
		return err
	}
	printEntry(e.Stdout, entry)
	return nil
}

func (e *Env) write(ctx context.Context, args []string) error {
	fs := newFlagSet("write")
	private := fs.Bool("private", false, "write the private entry")
	photoURL := fs.String("photo", "", "photo URL to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, rest, err := e.entryKey(fs.Args(), *private)
	if err != nil {
		return err
	}

	text := strings.Join(rest, " ")
	if text == "" {
		data, err := io.ReadAll(e.Stdin)
		if err != nil {
			return fmt.Errorf("read entry text: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return errors.New("write: entry text is empty")
	}

	saved, err := e.API.SaveEntry(ctx, key, text, *photoURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Stdout, "saved %s\n", saved.RecordKey)
	return nil
}

func (e *Env) delete(ctx context.Context, args []string) error {
	fs := newFlagSet("delete")
	private := fs.Bool("private", false, "delete the private entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, _, err := e.entryKey(fs.Args(), *private)
	if err != nil {
		return err
	}

	if err := e.API.DeleteEntry(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(e.Stdout, "deleted %s\n", key)
	return nil
}

func (e *Env) photo(ctx context.Context, args []string) error {
	fs := newFlagSet("photo")
	private := fs.Bool("private", false, "attach to the private entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("photo: expected DATE FILE")
	}
	key, _, err := e.entryKey(fs.Args()[:1], *private)
	if err != nil {
		return err
	}

	data, err := e.ReadFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	url, err := e.API.UploadPhoto(ctx, key, data)
	if err != nil {
		return err
	}

	entry, err := e.API.GetEntry(ctx, key)
	switch {
	case apiclient.IsNotFound(err):
		fmt.Fprintf(e.Stdout, "uploaded; write the %s entry with -photo %s to attach it\n", key, url)
		return nil
	case err != nil:
		return err
	}
	if _, err := e.API.SaveEntry(ctx, key, entry.Text, url); err != nil {
		return err
	}
	fmt.Fprintf(e.Stdout, "photo attached to %s\n", key)
	return nil
}

func (e *Env) recent(ctx context.Context) error {
	entries, err := e.API.Recent(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(e.Stdout, "no entries yet")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(e.Stdout, "%-20s %s\n", entry.RecordKey, firstLine(entry.Text))
	}
	return nil
}

func (e *Env) calendar(ctx context.Context, args []string) error {
	view := "family"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		view, args = args[0], args[1:]
	}

	fs := newFlagSet("calendar")
	monthFlag := fs.String("month", "", "month as YYYY-MM (default: this month)")
	withPrompts := fs.Bool("prompts", false, "show the prompt of each day")
	privateOnly := fs.Bool("private-only", false, "mine: show private entries only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := e.Now()
	year, month := now.Year(), now.Month()
	if *monthFlag != "" {
		t, err := time.Parse("2006-01", *monthFlag)
		if err != nil {
			return fmt.Errorf("calendar: invalid -month %q", *monthFlag)
		}
		year, month = t.Year(), t.Month()
	}

	var (
		page models.CalendarPage
		err  error
	)
	switch view {
	case "family":
		page, err = e.API.FamilyCalendar(ctx, year, int(month))
	case "mine":
		page, err = e.API.MyCalendar(ctx, year, int(month))
		if err == nil && *privateOnly {
			page.Entries = calendar.PrivateOnly(page.Entries)
		}
	default:
		return fmt.Errorf("calendar: unknown view %q (family or mine)", view)
	}
	if err != nil {
		return err
	}

	var prompts map[string]models.DailyPrompt
	if *withPrompts {
		prompts, err = calendar.LoadMonthPrompts(ctx, e.API, year, month, authorizationExpired)
		if err != nil {
			return err
		}
	}

	groups := calendar.GroupByDate(page.Entries, calendar.Today(now), prompts)
	fmt.Fprintf(e.Stdout, "%s %04d-%02d: %d entries on %d days\n", view, year, int(month), len(page.Entries), len(groups))
	for _, g := range groups {
		marker := " "
		if g.IsToday {
			marker = "*"
		}
		lock := ""
		if g.HasPrivateEntry {
			lock = " [private]"
		}
		fmt.Fprintf(e.Stdout, "%s %s (%s)%s\n", marker, g.Date, strings.Join(g.Participants, ", "), lock)
		if g.Prompt != nil {
			fmt.Fprintf(e.Stdout, "    prompt: %s\n", g.Prompt.Prompt)
		}
		for _, entry := range g.Entries {
			fmt.Fprintf(e.Stdout, "    %s: %s\n", entrykey.DisplayName(entry.OwnerID), firstLine(entry.Text))
		}
	}
	return nil
}

func (e *Env) prompt(ctx context.Context, args []string) error {
	date := calendar.Today(e.Now())
	if len(args) > 0 {
		date = args[0]
	}
	if !entrykey.ValidDate(date) {
		return fmt.Errorf("prompt: invalid date %q", date)
	}

	p, err := e.API.Prompt(ctx, date)
	if apiclient.IsNotFound(err) {
		fmt.Fprintf(e.Stdout, "no prompt for %s\n", date)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Stdout, "%s [%s]\n%s\n", p.Date, p.Category, p.Prompt)
	return nil
}

// entryKey builds the record key from an optional leading DATE argument and
// returns the remaining arguments.
func (e *Env) entryKey(args []string, private bool) (entrykey.Key, []string, error) {
	date := calendar.Today(e.Now())
	if len(args) > 0 && entrykey.ValidDate(args[0]) {
		date, args = args[0], args[1:]
	} else if len(args) > 0 && looksLikeDate(args[0]) {
		return entrykey.Key{}, nil, fmt.Errorf("invalid date %q", args[0])
	}
	key, err := entrykey.Parse(entrykey.ToRecordKey(date, entrykey.VisibilityFromPublic(!private)))
	return key, args, err
}

func (e *Env) readLine(prompt string) (string, error) {
	if e.lines == nil {
		e.lines = bufio.NewScanner(e.Stdin)
	}
	fmt.Fprint(e.Stdout, prompt)
	if !e.lines.Scan() {
		if err := e.lines.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no input")
	}
	fmt.Fprintln(e.Stdout)
	line := strings.TrimRight(e.lines.Text(), "\r")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}

func authorizationExpired(err error) bool {
	return errors.Is(err, apiclient.ErrAuthorizationExpired)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func printEntry(w io.Writer, entry models.DiaryEntry) {
	fmt.Fprintf(w, "%s by %s (updated %s)\n", entry.RecordKey, entrykey.DisplayName(entry.OwnerID), entry.UpdatedAt.Local().Format(time.DateTime))
	if entry.PhotoURL != "" {
		fmt.Fprintf(w, "photo: %s\n", entry.PhotoURL)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, entry.Text)
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	const limit = 60
	if r := []rune(line); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return line
}

func looksLikeDate(s string) bool {
	return len(s) == len(entrykey.DateLayout) && strings.Count(s, "-") == 2
}
