package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"creativeline/internal/app"
	"creativeline/internal/domain"
)

func generateCmd() *cobra.Command {
	var out string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "generate [id]",
		Short: "Submit the draft to the rendering service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args)
				if err != nil {
					return err
				}
				s, attempt, err := st.Submit(ctx, id, credentials())
				if interactive {
					in := bufio.NewReader(cmd.InOrStdin())
					for err == nil && len(s.Pending) > 0 {
						printAttempt(s, attempt)
						actions := askActions(in, cmd.OutOrStdout(), s)
						if len(actions) == 0 {
							break
						}
						s, attempt, err = st.Retry(ctx, id, credentials(), actions...)
					}
				}
				return finishAttempt(s, attempt, err, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory to write generated creatives to")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for confirmations and resubmit")
	return cmd
}

func confirmCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:       "confirm <people|drinkaware> [id]",
		Short:     "Answer a pending confirmation and resubmit",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"people", "drinkaware"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseAction(args[0])
			if err != nil {
				return err
			}
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args[1:])
				if err != nil {
					return err
				}
				s, attempt, err := st.Retry(ctx, id, credentials(), action)
				return finishAttempt(s, attempt, err, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory to write generated creatives to")
	return cmd
}

func parseAction(name string) (domain.RetryAction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "people", string(domain.ActionConfirmPeople):
		return domain.ActionConfirmPeople, nil
	case "drinkaware", "compliance", string(domain.ActionAcknowledgeCompliance):
		return domain.ActionAcknowledgeCompliance, nil
	}
	return "", fmt.Errorf("unknown confirmation %q (want people or drinkaware)", name)
}

var actionPrompts = map[domain.RetryAction]string{
	domain.ActionConfirmPeople:         "The images show people. Confirm you have permission to use them?",
	domain.ActionAcknowledgeCompliance: "The creative advertises alcohol. Add the Drinkaware lock-up and resubmit?",
}

func askActions(in *bufio.Reader, w io.Writer, s domain.Session) []domain.RetryAction {
	var actions []domain.RetryAction
	for _, p := range s.Pending {
		fmt.Fprintf(w, "%s [y/N] ", actionPrompts[p])
		line, _ := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			actions = append(actions, p)
		}
	}
	return actions
}

// finishAttempt prints what a submission produced. The run error is returned
// after the session is shown so failed attempts still display their state.
func finishAttempt(s domain.Session, attempt domain.Attempt, runErr error, out string) error {
	if attempt.ID == "" {
		return runErr
	}
	if viper.GetBool("json") {
		if err := printJSON(map[string]any{"draft": s, "attempt": attempt}); err != nil {
			return err
		}
	} else {
		printAttempt(s, attempt)
	}
	if runErr != nil {
		return runErr
	}
	if out != "" && s.State == domain.StateSucceeded {
		paths, err := writeResult(out, s.Result)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println("wrote", p)
		}
	}
	return nil
}

func printAttempt(s domain.Session, attempt domain.Attempt) {
	fmt.Printf("Attempt %d: %s", attempt.Number, attempt.State)
	if attempt.Condition != domain.ConditionNone {
		fmt.Printf(" (%s)", attempt.Condition)
	}
	fmt.Println()
	printSession(s)
}

// writeResult saves every download handle. Inline renditions carry no
// encoding and are written as png.
func writeResult(dir string, result domain.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, format := range result.Formats() {
		if !domain.ValidFormat(format) {
			return paths, fmt.Errorf("refusing to write format %q", format)
		}
		r := result[format]
		if r.Inline != "" {
			data, err := base64.StdEncoding.DecodeString(r.Inline)
			if err != nil {
				return paths, fmt.Errorf("decode %s: %w", format, err)
			}
			p := filepath.Join(dir, "creative_"+format+"."+string(domain.EncodingPNG))
			if err := os.WriteFile(p, data, 0o644); err != nil {
				return paths, err
			}
			paths = append(paths, p)
			continue
		}
		for _, d := range r.Downloads(format) {
			data, err := d.Bytes()
			if err != nil {
				return paths, fmt.Errorf("decode %s: %w", d.Filename, err)
			}
			p := filepath.Join(dir, d.Filename)
			if err := os.WriteFile(p, data, 0o644); err != nil {
				return paths, err
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}
