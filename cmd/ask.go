package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/auth"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
)

var (
	askSynthesize bool
	askPrincipal  string
	askMarkers    []string
	askSnapshot   string
	askStubScript string
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer one question and print the result as JSON",
	Example: `  ekaya-query ask "show me the 5 most recent orders"
  ekaya-query ask --principal analyst --marker tenant_id=acme "total invoiced this month"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		markers, err := parseMarkers(askMarkers)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if askSnapshot != "" {
			a.cfg.Schema.SnapshotFile = askSnapshot
		}
		if askStubScript != "" {
			a.cfg.LLM.Provider = llm.ProviderStub
			a.cfg.LLM.StubScript = askStubScript
		}

		if err := a.connect(ctx); err != nil {
			return err
		}
		if err := a.loadSnapshot(ctx); err != nil {
			return fmt.Errorf("load schema snapshot: %w", err)
		}
		if err := a.buildLLM(); err != nil {
			return err
		}
		if err := a.buildPipeline(); err != nil {
			return err
		}

		if askPrincipal != "" {
			ctx = auth.WithSecurityContext(ctx, auth.SecurityContext{Principal: askPrincipal, Markers: markers})
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		answer, err := a.pipeline.Answer(ctx, strings.Join(args, " "), askSynthesize)
		var perr *apperrors.PipelineError
		if errors.As(err, &perr) {
			_ = enc.Encode(map[string]any{"error": perr})
		}
		if err != nil {
			return err
		}
		return enc.Encode(answer)
	},
}

// parseMarkers turns repeated key=value flags into a marker map.
func parseMarkers(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	markers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("marker %q must be key=value", pair)
		}
		markers[key] = strings.TrimSpace(value)
	}
	return markers, nil
}

func init() {
	askCmd.Flags().BoolVar(&askSynthesize, "synthesize", false, "also print a short natural language summary")
	askCmd.Flags().StringVar(&askPrincipal, "principal", "", "run the question as this principal")
	askCmd.Flags().StringVar(&askSnapshot, "snapshot", "", "load the schema snapshot from this YAML file instead of the catalog")
	askCmd.Flags().StringVar(&askStubScript, "stub-script", "", "answer LLM calls from this scripted reply file")
	askCmd.Flags().StringArrayVar(&askMarkers, "marker", nil, "row-security marker as key=value (repeatable, requires --principal)")
}
