package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/assistant"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/config"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/connect"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/ics"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/mcp"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

const listLayout = "Mon Jan 2 15:04"

func newSayCmd(opts *globalOpts) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Handle one message, e.g. calassist say lunch with Sam tomorrow at 1pm",
		Long: `Handle one message as a conversation turn. Scheduling requests are
extracted, categorized and stored; other messages get a short reply.

Pass --session to continue an earlier conversation so that its history is
sent along with the message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sess := assistant.NewSession()
			if sessionID != "" {
				sess = assistant.ResumeSession(sessionID)
			}
			resp := a.engine.Handle(cmd.Context(), sess, strings.Join(args, " "), a.now())
			printResponse(cmd.OutOrStdout(), resp)
			if resp.Kind == assistant.KindFailure {
				return turnError(resp)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "conversation ID to continue")
	return cmd
}

func newChatCmd(opts *globalOpts) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation on stdin (exit with Ctrl-D or \"exit\")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sess := assistant.NewSession()
			if sessionID != "" {
				sess = assistant.ResumeSession(sessionID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s\n", sess.ID)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}
				printResponse(out, a.engine.Handle(cmd.Context(), sess, line, a.now()))
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "conversation ID to continue")
	return cmd
}

func printResponse(w io.Writer, resp assistant.Response) {
	fmt.Fprintln(w, resp.Message)
	if len(resp.Events) > 1 {
		for _, ev := range resp.Events {
			fmt.Fprintf(w, "  #%d  %s  %s\n", ev.ID, ev.Start.Format(listLayout), ev.Title)
		}
	}
}

func turnError(resp assistant.Response) error {
	if resp.Err != nil {
		return resp.Err
	}
	return fmt.Errorf("%s", resp.Message)
}

func newTodoCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Manage todos",
	}

	var dryRun bool
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a todo, e.g. calassist todo add pay rent every month important",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			var d model.TodoDraft
			if dryRun {
				d, err = a.engine.ParseTodo(text, a.now())
			} else {
				d, err = a.engine.AddTodo(cmd.Context(), text, a.now())
			}
			if err != nil {
				return err
			}
			printTodo(cmd.OutOrStdout(), d)
			return nil
		},
	}
	add.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "parse only, do not store")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List open todos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			todos, err := a.store.ListTodos(cmd.Context(), all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(todos) == 0 {
				fmt.Fprintln(out, "No todos.")
				return nil
			}
			for _, d := range todos {
				printTodo(out, d)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include completed todos")

	done := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a todo; recurring todos get their next occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid todo id %q", args[0])
			}
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			next, err := a.store.CompleteTodo(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Completed #%d\n", id)
			if next != nil {
				fmt.Fprint(out, "Next: ")
				printTodo(out, *next)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list, done)
	return cmd
}

func printTodo(w io.Writer, d model.TodoDraft) {
	var b strings.Builder
	if d.ID > 0 {
		fmt.Fprintf(&b, "#%d ", d.ID)
	}
	if d.Done {
		b.WriteString("[x] ")
	} else {
		b.WriteString("[ ] ")
	}
	b.WriteString(d.Title)
	if d.Due != nil {
		fmt.Fprintf(&b, "  due %s", d.Due.Format(listLayout))
	}
	if d.Priority != "" && d.Priority != model.PriorityMedium {
		fmt.Fprintf(&b, "  !%s", d.Priority)
	}
	if d.Project != "" {
		fmt.Fprintf(&b, "  (%s)", d.Project)
	}
	for _, tag := range d.Tags {
		b.WriteString("  #" + tag)
	}
	if r := d.Recurrence; r != nil {
		fmt.Fprintf(&b, "  every %s", r.Frequency)
	}
	if d.Duration > 0 {
		fmt.Fprintf(&b, "  ~%s", d.Duration)
	}
	fmt.Fprintln(w, b.String())
}

func newClassifyCmd(opts *globalOpts) *cobra.Command {
	var location, description string

	cmd := &cobra.Command{
		Use:   "classify <title>",
		Short: "Show the category an event would be filed under",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.classifier.Classify(cmd.Context(), classify.Input{
				Title:       strings.Join(args, " "),
				Location:    location,
				Description: description,
			})
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (confidence %.2f, %s)\n", res.Category, res.Confidence, res.Source)
			if res.Reasoning != "" {
				fmt.Fprintf(out, "  %s\n", res.Reasoning)
			}
			if res.NeedsConfirmation {
				fmt.Fprintf(out, "  below threshold %.2f; confirm with: calassist override set %s --title %q\n",
					a.classifier.Threshold(), res.Category, strings.Join(args, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "event location")
	cmd.Flags().StringVar(&description, "description", "", "event description")
	return cmd
}

func newOverrideCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage category overrides",
	}

	var title, location, description string
	var generalize bool
	set := &cobra.Command{
		Use:   "set <category>",
		Short: "Always file matching events under a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, ok := model.ParseCategory(args[0])
			if !ok {
				return fmt.Errorf("unknown category %q (valid: %s)", args[0], categoryList())
			}
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title is required")
			}
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.classifier.SaveOverride(cmd.Context(), classify.Input{
				Title:       title,
				Location:    location,
				Description: description,
			}, category, generalize)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", k, category)
			}
			return nil
		},
	}
	set.Flags().StringVar(&title, "title", "", "event title")
	set.Flags().StringVar(&location, "location", "", "event location")
	set.Flags().StringVar(&description, "description", "", "event description")
	set.Flags().BoolVar(&generalize, "generalize", false, "also match any event with this title or location")

	list := &cobra.Command{
		Use:   "list",
		Short: "List category overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.classifier.Overrides().Entries()
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No overrides.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.Category)
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an override by key (see override list)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.classifier.DeleteOverride(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, list, del)
	return cmd
}

func categoryList() string {
	names := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

// dateRange reads --from and --to. to is inclusive, so the returned bound is
// the following midnight.
func dateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := parseDate("from", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate("to", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func newEventsCmd(opts *globalOpts) *cobra.Command {
	var fromRaw, toRaw string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dateRange(fromRaw, toRaw)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListEvents(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, ev := range events {
				fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\n", ev.ID, ev.Start.Format(listLayout), ev.Title, ev.Location, ev.Category)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&fromRaw, "from", "", "earliest start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toRaw, "to", "", "latest start date, inclusive (YYYY-MM-DD)")
	return cmd
}

func newExportCmd(opts *globalOpts) *cobra.Command {
	var fromRaw, toRaw, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored events as an iCalendar (.ics) file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dateRange(fromRaw, toRaw)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.ListEvents(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			if err := ics.Export(w, events, time.Now()); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", len(events), outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromRaw, "from", "", "earliest start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toRaw, "to", "", "latest start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newImportCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Import events from an iCalendar file",
		Long: `Import events from an iCalendar file. Recurring events are expanded into
individual instances and events already stored are skipped. Events without
CATEGORIES are classified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := ics.NewImporter(a.store, a.classifier, a.logger).Import(cmd.Context(), f)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d events (%d already stored, %d failed)\n", res.Added, res.Skipped, res.Failed)
			if err != nil && res.Added == 0 && res.Skipped == 0 {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}
			return nil
		},
	}
}

func newSyncCmd(opts *globalOpts) *cobra.Command {
	var (
		configJSON string
		token      string
		calendars  []string
		feedURL    string
		since      string
	)
	cmd := &cobra.Command{
		Use:   "sync [provider]",
		Short: "Pull events from an external calendar",
		Long: `Pull events from an external calendar. Without a provider, lists the
available connectors and their config templates.

  calassist sync gcal --token ya29... --calendar primary
  calassist sync ics-feed --url webcal://example.com/team.ics

Events already stored are skipped and events without a category are
classified, as with import.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range connect.DefaultRegistry.List() {
					p := connect.DefaultRegistry.Get(name)
					fmt.Fprintf(out, "%s (%s)\n%s\n\n", name, p.DisplayName(), p.DefaultConfig())
				}
				return nil
			}

			name := args[0]
			cfg := json.RawMessage(configJSON)
			if configJSON == "" {
				var err error
				switch name {
				case "gcal":
					cfg, err = json.Marshal(connect.CalendarConfig{AccessToken: token, Calendars: calendars})
				case "ics-feed":
					cfg, err = json.Marshal(connect.FeedConfig{URL: feedURL})
				default:
					return fmt.Errorf("--config-json is required for provider %q", name)
				}
				if err != nil {
					return err
				}
			}

			var sincePtr *time.Time
			if since != "" {
				t, err := parseDate("since", since)
				if err != nil {
					return err
				}
				sincePtr = &t
			}

			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			engine := connect.NewSyncEngine(nil, ics.NewImporter(a.store, a.classifier, a.logger), a.logger)
			res, err := engine.Sync(cmd.Context(), name, cfg, sincePtr)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Synced %s: fetched %d, imported %d (%d already stored, %d failed) in %s\n",
				name, res.EventsFetched, res.EventsImported, res.EventsSkipped, res.EventsFailed,
				res.Duration.Round(time.Millisecond))
			if res.Error != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configJSON, "config-json", "", "Raw connector config (overrides the other flags)")
	cmd.Flags().StringVar(&token, "token", "", "Google OAuth access token (gcal; defaults to GOOGLE_ACCESS_TOKEN)")
	cmd.Flags().StringSliceVar(&calendars, "calendar", []string{"primary"}, "Calendar ID to sync (gcal; repeatable)")
	cmd.Flags().StringVar(&feedURL, "url", "", "Feed URL (ics-feed)")
	cmd.Flags().StringVar(&since, "since", "", "Only fetch events changed since YYYY-MM-DD where supported")
	return cmd
}

func newServeCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerConfig{
				Store:      a.store,
				Pipeline:   a.pipeline,
				Classifier: a.classifier,
				Version:    version,
				Now:        a.now,
			})
			a.logger.Info("mcp server starting", "transport", "stdio", "db", a.cfg.DBPath.Value)
			return server.ServeStdio(srv)
		},
	}
}

func newConfigCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "config file\t%s\n", cfg.ConfigPath)
			fmt.Fprintf(tw, "db\t%s\n", valueOr(cfg.DBPath.Value, "~/.calassist/calassist.db"))
			for _, purpose := range []string{"extract", "classify"} {
				m := cfg.EffectiveLLMModel(purpose, defaultLLM)
				fmt.Fprintf(tw, "%s model\t%s\t%s\n", purpose, m.Value, describeSource(m))
			}
			fmt.Fprintf(tw, "classify threshold\t%.2f\n", cfg.Threshold())
			fmt.Fprintf(tw, "auto category\t%t\n", cfg.AutoCategory())
			fmt.Fprintf(tw, "extract timeout\t%s\n", cfg.ExtractTimeout())
			for _, p := range []string{"google", "openrouter", "openai"} {
				key := cfg.APIKeyForProvider(p)
				state := "missing"
				if key.Value != "" {
					state = "set (" + describeSource(key) + ")"
				}
				fmt.Fprintf(tw, "%s key\t%s\n", p, state)
			}
			return tw.Flush()
		},
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func describeSource(v config.ResolvedValue) string {
	if v.From != "" {
		return fmt.Sprintf("%s %s", v.Source, v.From)
	}
	return string(v.Source)
}
