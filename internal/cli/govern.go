package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/store"
)

var (
	govDryRun       bool
	govReason       string
	dedupeKind      string
	dedupeDraft     bool
	dedupeAcross    bool
	deprecateSince  int
	deprecateMin    int64
	deprecateThresh float64
	deprecateKinds  []string
)

var statusCmd = &cobra.Command{
	Use:   "status <kind> <id> <status>",
	Short: "Move an entity to a new lifecycle status",
	Args:  cobra.ExactArgs(3),
	RunE:  runStatus,
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Merge duplicate entities into one canonical row per group",
	RunE:  runDedupe,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <kind> <id>",
	Short: "Restore an entity to its previous version",
	Args:  cobra.ExactArgs(2),
	RunE:  runRollback,
}

var rollbackRunCmd = &cobra.Command{
	Use:   "rollback-run <run-id>",
	Short: "Demote all knowledge produced by a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackRun,
}

var deprecateCmd = &cobra.Command{
	Use:   "deprecate",
	Short: "Deprecate approved entities whose success rate fell below the threshold",
	RunE:  runDeprecate,
}

func init() {
	for _, c := range []*cobra.Command{dedupeCmd, rollbackCmd, rollbackRunCmd, deprecateCmd} {
		c.Flags().BoolVar(&govDryRun, "dry-run", false, "Report what would change without writing")
	}
	statusCmd.Flags().StringVar(&govReason, "reason", "", "Reason recorded on tool rejections")
	rollbackRunCmd.Flags().StringVar(&govReason, "reason", "", "Reason recorded on rejected tools")

	dedupeCmd.Flags().StringVarP(&dedupeKind, "kind", "k", "skill", "Kind to dedupe")
	dedupeCmd.Flags().BoolVar(&dedupeDraft, "include-draft", false, "Let drafts join duplicate groups")
	dedupeCmd.Flags().BoolVar(&dedupeAcross, "across-domains", false, "Group unscoped entities across domains")

	deprecateCmd.Flags().IntVar(&deprecateSince, "since-days", 0, "Quality window in days (0 uses the configured default)")
	deprecateCmd.Flags().Int64Var(&deprecateMin, "min-calls", 0, "Minimum sampled calls before judging")
	deprecateCmd.Flags().Float64Var(&deprecateThresh, "threshold", 0, "Success rate below which entities are demoted (0 disables; default from config)")
	deprecateCmd.Flags().StringSliceVar(&deprecateKinds, "kind", nil, "Kinds to check (default skill,tool)")
}

func parseKindID(kindArg, idArg string) (store.Kind, int64, error) {
	kind, err := store.ParseKind(kindArg)
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid id %q", idArg)
	}
	return kind, id, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	kind, id, err := parseKindID(args[0], args[1])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.eng.Governor.SetStatus(cmd.Context(), kind, id, store.Status(args[2]), govReason)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), r)
}

func runDedupe(cmd *cobra.Command, args []string) error {
	kind, err := store.ParseKind(dedupeKind)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.eng.Governor.DedupeAndMerge(cmd.Context(), governance.DedupeOptions{
		Kind:               kind,
		IncludeDraft:       dedupeDraft,
		MergeAcrossDomains: dedupeAcross,
		DryRun:             govDryRun,
	})
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), r)
}

func runRollback(cmd *cobra.Command, args []string) error {
	kind, id, err := parseKindID(args[0], args[1])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.eng.Governor.RollbackToPreviousVersion(cmd.Context(), kind, id, govDryRun)
	if r != nil {
		printJSON(cmd.OutOrStdout(), r)
	}
	return err
}

func runRollbackRun(cmd *cobra.Command, args []string) error {
	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || runID <= 0 {
		return fmt.Errorf("invalid run id %q", args[0])
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.eng.Governor.RollbackKnowledgeFromRun(cmd.Context(), runID, governance.RunRollbackOptions{
		DryRun: govDryRun,
		Reason: govReason,
	})
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), r)
}

func runDeprecate(cmd *cobra.Command, args []string) error {
	var kinds []store.Kind
	for _, k := range deprecateKinds {
		kind, err := store.ParseKind(k)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}
	var threshold *float64
	if cmd.Flags().Changed("threshold") {
		threshold = &deprecateThresh
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.eng.Governor.AutoDeprecateLowQuality(cmd.Context(), governance.AutoDeprecateOptions{
		SinceDays: deprecateSince,
		MinCalls:  deprecateMin,
		Threshold: threshold,
		DryRun:    govDryRun,
		Kinds:     kinds,
	})
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), r)
}
