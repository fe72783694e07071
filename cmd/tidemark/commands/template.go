package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/scheduler"
)

// TemplateCmd groups job template subcommands.
var TemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage job templates",
	Long: `Manage job templates.

A template is a named trigger-and-params preset. Jobs created from a
template copy its values at creation time; editing or deleting the
template later never touches existing jobs.`,
}

var templateAddCmd = &cobra.Command{
	Use:     "add NAME",
	Aliases: []string{"create"},
	Short:   "Create a job template",
	Long: `Create a job template with a trigger preset.

Examples:
  tidemark template add daily-close --cron "30 21 * * 1-5" --description "After US market close"
  tidemark template add crypto-15m --every 15m --lookback 3`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplateAdd,
}

var templateLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List job templates",
	Args:    cobra.NoArgs,
	RunE:    runTemplateLs,
}

var templateShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a template's trigger and parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateRmCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"delete"},
	Short:   "Delete a template (jobs created from it are kept)",
	Args:    cobra.ExactArgs(1),
	RunE:    runTemplateRm,
}

func init() {
	templateAddCmd.Flags().String("cron", "", "Cron trigger expression (e.g. \"0 6 * * *\", @daily)")
	templateAddCmd.Flags().String("every", "", "Interval trigger (e.g. 15m, 6h, or bare seconds)")
	templateAddCmd.Flags().String("description", "", "What the template is for")
	templateAddCmd.Flags().Int("lookback", 0, "Ingestion window in days (0 uses the default)")
	templateAddCmd.Flags().String("mode", "", "Ingestion mode: incremental or full")
	templateAddCmd.Flags().String("conflict", "", "Conflict policy: do_nothing or upsert")

	TemplateCmd.AddCommand(templateAddCmd, templateLsCmd, templateShowCmd, templateRmCmd)
}

func runTemplateAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	flags := cmd.Flags()
	cronExpr, _ := flags.GetString("cron")
	every, _ := flags.GetString("every")
	if cronExpr != "" && every != "" {
		return errors.NewValidationError("--cron and --every are mutually exclusive")
	}
	if cronExpr == "" && every == "" {
		return errors.NewValidationError("a trigger is required: pass --cron or --every")
	}

	tmpl := &scheduler.Template{Name: args[0]}
	tmpl.Description, _ = flags.GetString("description")
	if cronExpr != "" {
		tmpl.TriggerKind = scheduler.TriggerCron
		tmpl.TriggerExpr = cronExpr
	} else {
		tmpl.TriggerKind = scheduler.TriggerInterval
		tmpl.TriggerExpr = every
	}
	tmpl.Params.LookbackDays, _ = flags.GetInt("lookback")
	tmpl.Params.Mode, _ = flags.GetString("mode")
	tmpl.Params.Conflict, _ = flags.GetString("conflict")

	created, err := sched.CreateTemplate(context.Background(), tmpl)
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Template created: %s (%s)", created.Name, created.ID)
	pterm.Printfln("  Trigger: %s %s", created.TriggerKind, created.TriggerExpr)
	pterm.Printfln("  Use it:  tidemark job add SYMBOL TYPE --template %s", created.Name)
	return nil
}

func runTemplateLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	templates, err := sched.ListTemplates(context.Background())
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		pterm.Info.Println("No templates. Create one with: tidemark template add NAME --cron \"0 6 * * *\"")
		return nil
	}

	pterm.Printfln("%-20s  %-22s  %s", "NAME", "TRIGGER", "DESCRIPTION")
	for _, tmpl := range templates {
		trigger := tmpl.TriggerKind + " " + tmpl.TriggerExpr
		if len(trigger) > 22 {
			trigger = trigger[:19] + "..."
		}
		pterm.Printfln("%-20s  %-22s  %s", tmpl.Name, trigger, tmpl.Description)
	}
	pterm.Println()
	pterm.Printfln("%d template(s)", len(templates))
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	tmpl, err := sched.FindTemplate(context.Background(), args[0])
	if err != nil {
		return err
	}

	lookback := tmpl.Params.LookbackDays
	if lookback <= 0 {
		lookback = scheduler.DefaultLookbackDays
	}

	pterm.Printfln("Template %s", tmpl.Name)
	pterm.Printfln("  ID:           %s", tmpl.ID)
	if tmpl.Description != "" {
		pterm.Printfln("  Description:  %s", tmpl.Description)
	}
	pterm.Printfln("  Trigger:      %s %s", tmpl.TriggerKind, tmpl.TriggerExpr)
	pterm.Printfln("  Lookback:     %d days", lookback)
	pterm.Printfln("  Mode:         %s", orDefault(tmpl.Params.Mode, "(config default)"))
	pterm.Printfln("  Conflict:     %s", orDefault(tmpl.Params.Conflict, "(config default)"))
	pterm.Printfln("  Created:      %s", tmpl.CreatedAt.Local().Format(timeFormat))
	return nil
}

func runTemplateRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	tmpl, err := sched.FindTemplate(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sched.DeleteTemplate(ctx, tmpl.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("Template deleted: %s", tmpl.Name)
	return nil
}
