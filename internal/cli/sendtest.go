package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/armorclaw/crashreport/internal/app"
	"github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/report"
	"github.com/armorclaw/crashreport/pkg/request"
)

// NewSendTestCommand creates the send-test command.
func NewSendTestCommand(rootOpts *RootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a sample crash report through the configured transport",
		Long: `Send a sample crash report to the configured receivers.

With the spool backend the report is queued and the flusher runs for --wait
so it can be delivered before the command exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendTest(cmd, rootOpts, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to run the spool flusher after queueing")
	return cmd
}

func runSendTest(cmd *cobra.Command, opts *RootOptions, wait time.Duration) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Assembler.Send(ctx, sampleInput()); err != nil {
		return err
	}

	if cfg.Mail.Backend == "spool" && wait > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "report queued, flushing for %s\n", wait)
		runCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return a.Run(runCtx)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "report sent")
	return nil
}

func sampleInput() report.Input {
	req, _ := http.NewRequest(http.MethodGet, "https://shop.example.com/orders?page=2", nil)
	req.Header.Set("User-Agent", "crashreport send-test")

	return report.Input{
		User:         "send-test",
		ErrorMessage: "sample fault raised by crashreport send-test",
		Backtrace:    errors.FormatStack(errors.CaptureStack(0)),
		Request:      request.FromHTTP(req, nil),
		Response: request.Response{
			Protocol: "HTTP/1.1",
			Status:   http.StatusInternalServerError,
			Header:   http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:     []byte("Internal Server Error\n"),
		},
	}
}
