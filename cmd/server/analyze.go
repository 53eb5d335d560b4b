package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/brokerwatch/internal/alerting"
	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/internal/notifier"
)

var (
	passServer string
	passVHost  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one read-only analysis pass against a broker",
	Long: `Analyze reads node and queue metrics from a configured broker and
prints the detected alerts. Nothing is persisted and nobody is notified.`,
	RunE: runAnalyze,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run one tracking pass, updating alert state and notifying",
	RunE:  runTrack,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, trackCmd} {
		c.Flags().StringVar(&passServer, "server", "", "broker id from the config (required)")
		c.Flags().StringVar(&passVHost, "vhost", "", "limit queue analysis to one vhost")
		_ = c.MarkFlagRequired("server")
		rootCmd.AddCommand(c)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.passRequest(passServer, passVHost)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), duration(a.cfg.Server.PassTimeout))
	defer cancel()

	result, err := a.engine.Analyze(ctx, req)
	if errors.Is(err, alerting.ErrSourceUnreachable) {
		return fmt.Errorf("broker %s is unreachable", passServer)
	}
	if err != nil {
		return err
	}

	if output == "json" {
		return writeJSON(os.Stdout, result)
	}
	printAlerts(os.Stdout, result)
	return nil
}

// trackReport is the JSON form of a tracking pass.
type trackReport struct {
	Result      *models.AlertsResult `json:"result"`
	Created     int                  `json:"created"`
	Reactivated int                  `json:"reactivated"`
	Refreshed   int                  `json:"refreshed"`
	Resolved    int                  `json:"resolved"`
	Notifiable  int                  `json:"notifiable"`
	Errors      int                  `json:"errors"`
	Delivery    notifier.Report      `json:"delivery"`
}

func runTrack(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.passRequest(passServer, passVHost)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), duration(a.cfg.Server.PassTimeout))
	defer cancel()

	out := a.engine.Track(ctx, req)
	if out.Unreachable {
		return fmt.Errorf("broker %s is unreachable", passServer)
	}

	t := out.Tracking
	if output == "json" {
		return writeJSON(os.Stdout, trackReport{
			Result:      out.Result,
			Created:     t.Created,
			Reactivated: t.Reactivated,
			Refreshed:   t.Refreshed,
			Resolved:    t.Resolved,
			Notifiable:  len(t.Notifiable),
			Errors:      t.Errors,
			Delivery:    out.Delivery,
		})
	}
	printAlerts(os.Stdout, out.Result)
	fmt.Printf("\nCreated: %d  Reactivated: %d  Refreshed: %d  Resolved: %d  Notifiable: %d  Errors: %d\n",
		t.Created, t.Reactivated, t.Refreshed, t.Resolved, len(t.Notifiable), t.Errors)
	if out.Delivery.Skipped != "" {
		fmt.Printf("Notification skipped: %s\n", out.Delivery.Skipped)
	}
	return nil
}

func printAlerts(w io.Writer, result *models.AlertsResult) {
	s := result.Summary
	fmt.Fprintf(w, "Alerts: %d (critical %d, warning %d, info %d)\n", s.Total, s.Critical, s.Warning, s.Info)
	if len(result.Alerts) == 0 {
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tCATEGORY\tSOURCE\tTITLE\tCURRENT")
	fmt.Fprintln(tw, "--------\t--------\t------\t-----\t-------")
	for _, al := range result.Alerts {
		source := string(al.Source.Type) + ":" + al.Source.Name
		if al.VHost != "" {
			source += " (" + al.VHost + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%g\n",
			strings.ToUpper(string(al.Severity)), al.Category, source, al.Title, al.Details.Current)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
