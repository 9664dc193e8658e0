package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"creativeline/internal/app"
	"creativeline/internal/config"
	"creativeline/internal/domain"
)

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "draft", Short: "Manage campaign drafts"}
	cmd.AddCommand(draftCreateCmd())
	cmd.AddCommand(draftListCmd())
	cmd.AddCommand(draftShowCmd())
	cmd.AddCommand(draftSetCmd())
	cmd.AddCommand(draftAssetsCmd())
	cmd.AddCommand(draftUseCmd())
	cmd.AddCommand(draftResetCmd())
	return cmd
}

func draftCreateCmd() *cobra.Command {
	var file, mainMessage string
	var template bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft, optionally from a campaign.yml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if template {
				path := config.Path(viper.GetString("workspace"))
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault(mainMessage)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s; edit it, then run cl draft create --file %s\n", path, path)
				return nil
			}
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				var (
					draft  = domain.NewDraft()
					assets *domain.AssetSet
				)
				if file != "" {
					cfg, err := config.FromFile(file)
					if err != nil {
						return err
					}
					set, err := cfg.LoadAssets(filepath.Dir(file))
					if err != nil {
						return err
					}
					draft, assets = cfg.Draft, &set
				}
				if mainMessage != "" {
					draft.MainMessage = mainMessage
				}
				s, err := st.CreateDraft(ctx, &draft, assets)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				fmt.Printf("\nMake it current with: cl draft use %s\n", s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "campaign.yml to import")
	cmd.Flags().StringVar(&mainMessage, "main-message", "", "headline")
	cmd.Flags().BoolVar(&template, "template", false, "write a starter campaign.yml instead of creating a draft")
	return cmd
}

func draftListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				items, err := st.ListDrafts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				current := viper.GetString("draft")
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "Main message", "State", "Condition", "Overrides", "Attempts", "Updated"})
				for _, s := range items {
					marker := ""
					if s.ID == current {
						marker = "*"
					}
					tw.AppendRow(table.Row{marker, s.ID, s.Draft.MainMessage, s.State, s.Condition, overridesLabel(s.Overrides), s.Attempts, s.UpdatedAt.Local().Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum drafts to list")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a draft",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args)
				if err != nil {
					return err
				}
				s, err := st.Draft(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
}

// draftFields maps flag names to draft fields. Override flags are not
// editable; they are only set by answering a confirmation.
var draftFields = []struct {
	flag, usage string
	field       func(*domain.CampaignDraft) *string
}{
	{"main-message", "headline", func(d *domain.CampaignDraft) *string { return &d.MainMessage }},
	{"sub-message", "secondary line", func(d *domain.CampaignDraft) *string { return &d.SubMessage }},
	{"cta-text", "call to action", func(d *domain.CampaignDraft) *string { return &d.CTAText }},
	{"style", "visual style", func(d *domain.CampaignDraft) *string { return &d.Style }},
	{"background-color", "background color (#rrggbb)", func(d *domain.CampaignDraft) *string { return &d.BackgroundColor }},
	{"badge-color", "badge color (#rrggbb)", func(d *domain.CampaignDraft) *string { return &d.BadgeColor }},
	{"badge-shape", "badge shape (circle, square, hexagon; empty for random)", func(d *domain.CampaignDraft) *string { return &d.BadgeShape }},
	{"value-tile-type", "value tile type", func(d *domain.CampaignDraft) *string { return &d.ValueTileType }},
	{"clubcard-price", "clubcard price", func(d *domain.CampaignDraft) *string { return &d.ClubcardPrice }},
	{"regular-price", "regular price", func(d *domain.CampaignDraft) *string { return &d.RegularPrice }},
	{"clubcard-end-date", "clubcard end date", func(d *domain.CampaignDraft) *string { return &d.ClubcardEndDate }},
	{"tesco-tag", "tag line", func(d *domain.CampaignDraft) *string { return &d.TescoTag }},
}

func draftSetCmd() *cobra.Command {
	values := make([]string, len(draftFields))
	cmd := &cobra.Command{
		Use:   "set [id]",
		Short: "Edit draft fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := false
			for _, f := range draftFields {
				changed = changed || cmd.Flags().Changed(f.flag)
			}
			if !changed {
				return fmt.Errorf("no fields given")
			}
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args)
				if err != nil {
					return err
				}
				s, err := st.EditDraft(ctx, id, func(d *domain.CampaignDraft) {
					for i, f := range draftFields {
						if cmd.Flags().Changed(f.flag) {
							*f.field(d) = values[i]
						}
					}
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
	for i, f := range draftFields {
		cmd.Flags().StringVar(&values[i], f.flag, "", f.usage)
	}
	return cmd
}

func draftAssetsCmd() *cobra.Command {
	var logo string
	var products []string
	var replace bool
	cmd := &cobra.Command{
		Use:   "assets [id]",
		Short: "Attach logo and product images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if logo == "" && len(products) == 0 {
				return fmt.Errorf("--logo or --product required")
			}
			if len(products) > domain.MaxProducts {
				return fmt.Errorf("at most %d product images", domain.MaxProducts)
			}
			var set domain.AssetSet
			if logo != "" {
				a, err := config.ReadAsset(logo)
				if err != nil {
					return err
				}
				set.Logo = &a
			}
			for _, p := range products {
				a, err := config.ReadAsset(p)
				if err != nil {
					return err
				}
				set.Products = append(set.Products, a)
			}
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args)
				if err != nil {
					return err
				}
				var s domain.Session
				if replace {
					s, err = st.SetAssets(ctx, id, set)
				} else {
					for slot, a := range set.Slots() {
						if s, err = st.PutAsset(ctx, id, slot, a); err != nil {
							break
						}
					}
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&logo, "logo", "", "logo image path")
	cmd.Flags().StringArrayVar(&products, "product", nil, "product image path (repeat up to 3 times, in order)")
	cmd.Flags().BoolVar(&replace, "replace", false, "drop assets not given on the command line")
	return cmd
}

func draftUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current draft for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				if _, err := st.Draft(ctx, id); err != nil {
					return fmt.Errorf("draft %s: %w", id, err)
				}
				if err := setEnvValue(envPath(), envDraftKey, id); err != nil {
					return err
				}
				fmt.Printf("Set %s=%s in %s\n", envDraftKey, id, envPath())
				return nil
			})
		},
	}
}

func draftResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [id]",
		Short: "Reset a draft to defaults, dropping assets and confirmations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				id, err := currentDraft(ctx, st, args)
				if err != nil {
					return err
				}
				s, err := st.Reset(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSession(s)
				return nil
			})
		},
	}
}

func printSession(s domain.Session) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Draft " + s.ID)
	d := s.Draft
	rows := []table.Row{
		{"Main message", d.MainMessage},
		{"Sub message", d.SubMessage},
		{"CTA", d.CTAText},
		{"Style", d.Style},
		{"Background", d.BackgroundColor},
		{"Badge", strings.TrimSpace(d.BadgeColor + " " + d.BadgeShape)},
	}
	if d.ValueTileType != "" {
		rows = append(rows, table.Row{"Value tile", fmt.Sprintf("%s %s / %s until %s", d.ValueTileType, d.ClubcardPrice, d.RegularPrice, d.ClubcardEndDate)})
	}
	if d.TescoTag != "" {
		rows = append(rows, table.Row{"Tag", d.TescoTag})
	}
	rows = append(rows,
		table.Row{"Assets", assetsLabel(s.Assets)},
		table.Row{"Overrides", overridesLabel(s.Overrides)},
		table.Row{"State", s.State},
	)
	if s.Condition != domain.ConditionNone {
		rows = append(rows, table.Row{"Condition", s.Condition})
	}
	if s.Message != "" {
		rows = append(rows, table.Row{"Message", s.Message})
	}
	for _, e := range s.Errors {
		rows = append(rows, table.Row{"Error", e})
	}
	if len(s.Pending) > 0 {
		rows = append(rows, table.Row{"Next", pendingHint(s.Pending)})
	}
	if len(s.Result) > 0 {
		rows = append(rows, table.Row{"Formats", strings.Join(s.Result.Formats(), ", ")})
	}
	if s.AlcoholAdvisory {
		rows = append(rows, table.Row{"Advisory", "headline mentions alcohol; a Drinkaware lock-up may be required"})
	}
	tw.AppendRows(rows)
	tw.Render()
}

func assetsLabel(set domain.AssetSet) string {
	slots := set.Slots()
	if len(slots) == 0 {
		return "none (upload product and logo)"
	}
	var parts []string
	if a, ok := slots[domain.SlotLogo]; ok {
		parts = append(parts, "logo="+a.Name)
	}
	for i := 0; i < domain.MaxProducts; i++ {
		if a, ok := slots[domain.ProductSlot(i)]; ok {
			parts = append(parts, domain.ProductSlot(i)+"="+a.Name)
		}
	}
	if !set.Complete() {
		parts = append(parts, "(incomplete)")
	}
	return strings.Join(parts, " ")
}

func overridesLabel(o domain.Overrides) string {
	var names []string
	for _, flag := range o.List() {
		names = append(names, string(flag))
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func pendingHint(pending []domain.RetryAction) string {
	var hints []string
	for _, p := range pending {
		switch p {
		case domain.ActionConfirmPeople:
			hints = append(hints, "cl confirm people")
		case domain.ActionAcknowledgeCompliance:
			hints = append(hints, "cl confirm drinkaware")
		}
	}
	return strings.Join(hints, " | ")
}
