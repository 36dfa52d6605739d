package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/lore/internal/store"
)

var (
	recordOutcome string
	recordReused  bool
	recordRunID   int64
	recordDetail  string
)

var recordCmd = &cobra.Command{
	Use:   "record <kind> <id>",
	Short: "Record one use of an entity in the execution log",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordOutcome, "outcome", "unknown", "pass, fail or unknown")
	recordCmd.Flags().BoolVar(&recordReused, "reused", false, "The entity was reused rather than freshly produced")
	recordCmd.Flags().Int64Var(&recordRunID, "run", 0, "Run id the execution belongs to")
	recordCmd.Flags().StringVar(&recordDetail, "detail", "", "Free-form detail, truncated to 4KB")
}

func runRecord(cmd *cobra.Command, args []string) error {
	kind, id, err := parseKindID(args[0], args[1])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	x := &store.Execution{
		Kind:     kind,
		EntityID: id,
		Outcome:  store.Outcome(recordOutcome),
		Reused:   recordReused,
		Detail:   recordDetail,
	}
	if recordRunID > 0 {
		x.RunID = &recordRunID
	}
	if err := a.eng.Record(cmd.Context(), x); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), x)
}
