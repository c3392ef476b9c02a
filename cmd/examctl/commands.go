package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-gate/internal/model"
	"github.com/stemsi/exstem-gate/internal/service"
	"golang.org/x/term"
)

func learnersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "learners", Short: "Manage the roster"}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml|->",
		Short: "Upsert learners from a YAML roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			learners, err := parseLearners(in)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.admin.ImportLearners(cmd.Context(), learners)
			if err != nil {
				return fmt.Errorf("imported %d of %d: %w", n, len(learners), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d learners\n", n)
			return nil
		},
	})
	return cmd
}

func assessmentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assessments", Short: "Manage assessment content"}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml|->",
		Short: "Create or replace an assessment from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			assessment, err := parseAssessment(in)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.admin.ImportAssessment(cmd.Context(), assessment); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assessment %s (%d items, total %g)\n",
				assessment.ID, len(assessment.Items), assessment.TotalScore)
			return nil
		},
	})
	return cmd
}

func grantsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grants", Short: "Manage the per-assessment allow-list"}

	setGrant := func(active bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			assessmentID, learnerIDs, err := parseGrantArgs(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range learnerIDs {
				if err := a.admin.SetGrant(cmd.Context(), assessmentID, id, active); err != nil {
					return fmt.Errorf("learner %d: %w", id, err)
				}
			}
			verb := "granted"
			if !active {
				verb = "revoked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d learners on %s\n", verb, len(learnerIDs), assessmentID)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <assessment-id> <learner-id>...",
			Short: "Grant learners access",
			Args:  cobra.MinimumNArgs(2),
			RunE:  setGrant(true),
		},
		&cobra.Command{
			Use:   "revoke <assessment-id> <learner-id>...",
			Short: "Revoke learners' access",
			Args:  cobra.MinimumNArgs(2),
			RunE:  setGrant(false),
		},
		&cobra.Command{
			Use:   "list <assessment-id>",
			Short: "List grants, revoked ones included",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				assessmentID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("assessment id: %w", err)
				}
				a, err := openApp(cmd.Context(), cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				grants, err := a.admin.ListGrants(cmd.Context(), assessmentID)
				if err != nil {
					return err
				}
				if len(grants) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no grants: open to every active learner")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LEARNER\tACTIVE\tUPDATED")
				for _, g := range grants {
					fmt.Fprintf(tw, "%d\t%t\t%s\n", g.LearnerID, g.Active, g.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func parseGrantArgs(args []string) (uuid.UUID, []int64, error) {
	assessmentID, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("assessment id: %w", err)
	}
	ids := make([]int64, 0, len(args)-1)
	for _, s := range args[1:] {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return uuid.Nil, nil, fmt.Errorf("learner id %q: must be a positive integer", s)
		}
		ids = append(ids, id)
	}
	return assessmentID, ids, nil
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <assessment-id>",
		Short: "Show who has and has not completed an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assessmentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("assessment id: %w", err)
			}
			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.status.GetStatus(cmd.Context(), assessmentID)
			if err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			return printStatus(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func printStatus(w io.Writer, s *model.AssessmentStatus) error {
	fmt.Fprintf(w, "assessment %s: %d/%d completed (%.1f%%)\n\n",
		s.AssessmentID, len(s.Completed), s.RosterSize, s.CompletionRate*100)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEARNER\tNAME\tSTATE\tSUBMITTED\tDURATION")
	for _, c := range s.Completed {
		fmt.Fprintf(tw, "%d\t%s\tcompleted\t%s\t%s\n", c.LearnerID, c.Name,
			c.SubmittedAt.Format(time.RFC3339), (time.Duration(c.DurationSeconds) * time.Second).String())
	}
	for _, p := range s.NotCompleted {
		state := "not started"
		if p.Started {
			state = "in progress"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\n", p.LearnerID, p.Name, state)
	}
	return tw.Flush()
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an admin key for ADMIN_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd)
			if err != nil {
				return err
			}
			if len(key) < 8 {
				return errors.New("key must be at least 8 characters")
			}

			cfg, _ := loadConfig(cmd)
			hash, err := service.NewAuthService(cfg).HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readKey prompts without echo on a terminal and reads one line otherwise.
func readKey(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Admin key: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
