// Package queryforgectl implements the operator CLI. Commands are thin HTTP
// clients over the api service; no query logic lives here.
package queryforgectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
}

func NewRootCommand(defaults Options) *cobra.Command {
	opts := defaults
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	root := &cobra.Command{
		Use:           "queryforgectl",
		Short:         "Operate a queryforge api service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.PersistentFlags().StringVar(&opts.BaseURL, "base-url", opts.BaseURL, "queryforge API base URL")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.Timeout, "HTTP timeout")

	root.AddCommand(
		getCommand(&opts, "health", "Check service liveness", "/v1/health"),
		getCommand(&opts, "ready", "Check service readiness", "/v1/ready"),
		getCommand(&opts, "bindings", "Show the active binding registry", "/v1/bindings"),
		reloadCommand(&opts),
		queryCommand(&opts),
		auditCommand(&opts),
	)
	return root
}

func getCommand(opts *Options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd.Context(), opts, http.MethodGet, path, nil)
		},
	}
}

func reloadCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the binding registry from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd.Context(), opts, http.MethodPost, "/v1/bindings/reload", nil)
		},
	}
}

func queryCommand(opts *Options) *cobra.Command {
	var taskFile string
	var stream bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Submit a structured query task (JSON from --file or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := readTask(opts, taskFile)
			if err != nil {
				return err
			}
			path := "/v1/query"
			if stream {
				path = "/v1/query/stream"
			}
			return request(cmd.Context(), opts, http.MethodPost, path, body)
		},
	}
	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "task JSON file (defaults to stdin)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream staged events instead of one response")
	return cmd
}

func auditCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <task-id>",
		Short: "Show the resolver audit trail for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), opts, http.MethodGet, "/v1/audit/"+args[0], nil)
		},
	}
}

func readTask(opts *Options, taskFile string) ([]byte, error) {
	if taskFile != "" {
		body, err := os.ReadFile(taskFile)
		if err != nil {
			return nil, fmt.Errorf("read task file: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(opts.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read task from stdin: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("task JSON is required on stdin or via --file")
	}
	return body, nil
}

func request(ctx context.Context, opts *Options, method, path string, body []byte) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	endpoint := strings.TrimRight(opts.BaseURL, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		_, err = io.Copy(opts.Stdout, resp.Body)
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := printJSON(opts.Stdout, raw); err != nil {
		_, _ = fmt.Fprintln(opts.Stdout, string(raw))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func printJSON(out io.Writer, raw []byte) error {
	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(raw), "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, indented.String())
	return err
}
