package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbenjam1n/surveyflow/internal/engine"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a survey's sections, current answers and validation state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetBool("history")
		ctx := context.Background()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		// Looking does not pause competing flows.
		collab := s.collaborators()
		collab.Flows = nil
		c, err := engine.Open(ctx, args[0], collab, s.options())
		if err != nil {
			return err
		}

		fmt.Print(renderOverview(c))
		if sec := c.CurrentSection(); sec != nil {
			fmt.Println()
			fmt.Print(renderSection(c, sec, -1, true))
			fmt.Println()
			fmt.Println(navHelp(c))
		}
		if !history {
			return nil
		}

		transitions, err := s.store.Transitions(ctx, c.ID())
		if err != nil {
			return err
		}
		completions, err := s.store.Completions(ctx, c.ID())
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(headerStyle.Render("History"))
		if len(transitions) == 0 && len(completions) == 0 {
			fmt.Println("  (none)")
		}
		for _, t := range transitions {
			fmt.Printf("  %s  → %s  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Section, dimStyle.Render(fmt.Sprintf("%d value(s)", len(t.State.Data))))
		}
		for _, cr := range completions {
			fmt.Printf("  %s  %s at %s\n", cr.CreatedAt.Local().Format("2006-01-02 15:04:05"), cr.Action, cr.State.Section)
		}
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <id> [field=value]...",
	Short: "Set answers and optionally move to another section",
	Long: `Set answers on the current survey state.

Choice fields take the value to select (brand=vw). Fields made of several
checkboxes take a comma separated list (days=mon,wed). An empty value clears
a text or numeric field (comment=).

Without a navigation flag the edits are saved as a draft. --next, --prev and
--goto commit a section change, which is refused while an earlier section
is incomplete.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		next, _ := cmd.Flags().GetBool("next")
		prev, _ := cmd.Flags().GetBool("prev")
		target, _ := cmd.Flags().GetString("goto")
		ctx := context.Background()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.open(ctx, args[0])
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		for _, kv := range args[1:] {
			field, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("expected field=value, got %q", kv)
			}
			if err := c.SetText(field, value); err != nil {
				return err
			}
			for _, it := range c.Survey().ItemsFor(field) {
				c.Touch(it)
			}
		}

		moved, navigated := false, true
		switch {
		case next:
			moved, err = c.MoveNext(ctx)
		case prev:
			moved, err = c.MovePrev(ctx)
		case target != "":
			moved, err = c.SetSectionByID(ctx, target)
		default:
			navigated = false
		}
		var perr *engine.PersistenceError
		if errors.As(err, &perr) {
			fmt.Println(failStyle.Render(fmt.Sprintf("Could not save the move to %s: %v", perr.Section, perr.Err)))
		} else if err != nil {
			return err
		}
		if navigated && !moved && err == nil {
			fmt.Println(warnStyle.Render("Navigation refused: an earlier section is incomplete or the target is not enabled"))
		}
		if !moved {
			if err := s.store.SaveState(ctx, c.ID(), c.Persisted()); err != nil {
				return fmt.Errorf("save draft: %w", err)
			}
		}

		if sec := c.CurrentSection(); sec != nil {
			fmt.Print(renderSection(c, sec, -1, false))
			fmt.Println()
			fmt.Println(navHelp(c))
		}
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Submit or cancel a survey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := engine.Action(mustString(cmd, "action"))
		if !action.Valid() {
			return fmt.Errorf("unknown action %q (want %s or %s)", action, engine.ActionSubmit, engine.ActionCancel)
		}
		ctx := context.Background()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.open(ctx, args[0])
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		err = c.Finish(ctx, action)
		if errors.Is(err, engine.ErrSectionInvalid) {
			fmt.Println(failStyle.Render("The current section is not complete:"))
			fmt.Print(renderSection(c, c.CurrentSection(), -1, true))
			return err
		}
		if err != nil {
			return err
		}
		fmt.Printf("Survey %s: %s recorded\n", c.ID(), action)
		return nil
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <id> <section>",
	Short: "Record one playback of a section's video",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, _ := cmd.Flags().GetFloat64("seconds")
		completed, _ := cmd.Flags().GetBool("completed")
		ctx := context.Background()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.open(ctx, args[0])
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		if err := c.RecordVideo(args[1], seconds, completed); err != nil {
			return err
		}
		if err := s.store.SaveState(ctx, c.ID(), c.Persisted()); err != nil {
			return err
		}
		v := c.Survey().SectionByID(args[1]).Video
		fmt.Printf("Section %s: %d view(s), %ss watched, completed=%v\n", args[1], v.ViewCount, formatValue(v.ViewDuration), v.Completed)
		return nil
	},
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func init() {
	showCmd.Flags().Bool("history", false, "Also list section transitions and completions")

	answerCmd.Flags().Bool("next", false, "Move to the next enabled section")
	answerCmd.Flags().Bool("prev", false, "Move to the previous enabled section")
	answerCmd.Flags().String("goto", "", "Move to the section with this id")
	answerCmd.MarkFlagsMutuallyExclusive("next", "prev", "goto")

	completeCmd.Flags().String("action", string(engine.ActionSubmit), "submit or cancel")

	videoCmd.Flags().Float64("seconds", 0, "Seconds watched in this playback")
	videoCmd.Flags().Bool("completed", false, "The video was watched to the end")
}
