package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

func runPendingCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	status := fs.String("status", "PENDING", "filter by status (empty lists all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/v1/changes"
	if strings.TrimSpace(*status) != "" {
		path += "?status=" + url.QueryEscape(strings.TrimSpace(*status))
	}
	data, err := client.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp changeListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Changes) == 0 {
		fmt.Println("no changes")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTARGET\tSTATUS\tCREATED")
	for _, c := range resp.Changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Kind, c.Target, c.Status, c.CreatedAt)
	}
	return tw.Flush()
}

func runShowCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsgate show <change_id>")
	}
	id := strings.TrimSpace(args[0])
	data, err := client.doJSON(ctx, http.MethodGet, "/v1/changes/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp changeDetailResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	printChangeDetail(resp)
	return nil
}

func printChangeDetail(resp changeDetailResponse) {
	fmt.Printf("id:      %s\n", resp.ID)
	fmt.Printf("kind:    %s\n", resp.Kind)
	fmt.Printf("target:  %s\n", resp.Target)
	fmt.Printf("status:  %s\n", resp.Status)
	fmt.Printf("created: %s\n", resp.CreatedAt)
	if len(resp.CommandPlan) > 0 {
		fmt.Println("plan:")
		for i, command := range resp.CommandPlan {
			fmt.Printf("  %d. %s\n", i+1, command)
		}
	}
	if strings.TrimSpace(resp.Preview) != "" {
		fmt.Println("preview:")
		fmt.Println(indentLines(resp.Preview, "  "))
	}
}

func runEventsCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsgate events <change_id>")
	}
	id := strings.TrimSpace(args[0])
	data, err := client.doJSON(ctx, http.MethodGet, "/v1/changes/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp eventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Events) == 0 {
		fmt.Println("no events")
		return nil
	}
	for _, ev := range resp.Events {
		line := fmt.Sprintf("%s  %s", ev.Timestamp, ev.Kind)
		if ev.Message != "" {
			line += "  " + ev.Message
		}
		fmt.Println(line)
	}
	return nil
}

func runApproveCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "skip the interactive confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: opsgate approve <change_id> [--force]")
	}
	id := strings.TrimSpace(rest[0])

	// Show the operator what they are approving before the prompt.
	detailData, err := client.doJSON(ctx, http.MethodGet, "/v1/changes/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	var detail changeDetailResponse
	if err := json.Unmarshal(detailData, &detail); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !jsonOutput {
		printChangeDetail(detail)
	}
	if err := requireConfirmation(confirmOptions{
		action:     fmt.Sprintf("apply change %s (%s %s)", detail.ID, detail.Kind, detail.Target),
		force:      *force,
		jsonOutput: jsonOutput,
	}); err != nil {
		return err
	}

	data, err := client.doJSON(ctx, http.MethodPost, "/v1/changes/"+url.PathEscape(id)+"/apply", struct{}{})
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp applyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Printf("change %s is %s\n", resp.Change.ID, resp.Change.Status)
	for i, result := range resp.Results {
		fmt.Printf("  %d. exit=%d %s\n", i+1, result.ExitCode, result.Command)
		if strings.TrimSpace(result.Stdout) != "" {
			fmt.Println(indentLines(strings.TrimRight(result.Stdout, "\n"), "     "))
		}
	}
	return nil
}

func runRejectCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsgate reject <change_id>")
	}
	id := strings.TrimSpace(args[0])
	data, err := client.doJSON(ctx, http.MethodPost, "/v1/changes/"+url.PathEscape(id)+"/reject", struct{}{})
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp changeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Printf("change %s is %s\n", resp.ID, resp.Status)
	return nil
}

func runServicesCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	fs := flag.NewFlagSet("services", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	projectDir := fs.String("project-dir", "", "compose project directory (daemon default if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/v1/services"
	if strings.TrimSpace(*projectDir) != "" {
		path += "?project_dir=" + url.QueryEscape(strings.TrimSpace(*projectDir))
	}
	data, err := client.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp servicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Services) == 0 {
		fmt.Println("no services")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPORTS")
	for _, svc := range resp.Services {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", svc.Name, svc.State, svc.Ports)
	}
	return tw.Flush()
}

func runLogsCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	container := fs.String("container", "", "docker container name")
	service := fs.String("service", "", "compose service name")
	projectDir := fs.String("project-dir", "", "compose project directory (daemon default if empty)")
	tail := fs.Int("tail", 0, "number of log lines (daemon default if 0)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *container == "" && *service == "" {
		return fmt.Errorf("usage: opsgate logs (--container <name> | --service <name>) [--tail <n>]")
	}
	query := url.Values{}
	if *container != "" {
		query.Set("container", *container)
	}
	if *service != "" {
		query.Set("service", *service)
	}
	if strings.TrimSpace(*projectDir) != "" {
		query.Set("project_dir", strings.TrimSpace(*projectDir))
	}
	if *tail > 0 {
		query.Set("lines", strconv.Itoa(*tail))
	}
	data, err := client.doJSON(ctx, http.MethodGet, "/v1/logs?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp logsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Print(resp.Lines)
	if !strings.HasSuffix(resp.Lines, "\n") {
		fmt.Println()
	}
	return nil
}

func runCatCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsgate cat <path>")
	}
	path := strings.TrimSpace(args[0])
	data, err := client.doJSON(ctx, http.MethodGet, "/v1/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp fileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Print(resp.Content)
	if !strings.HasSuffix(resp.Content, "\n") {
		fmt.Println()
	}
	return nil
}

func runCrontabCommand(ctx context.Context, args []string, client *apiClient, jsonOutput bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsgate crontab <owner>")
	}
	owner := strings.TrimSpace(args[0])
	data, err := client.doJSON(ctx, http.MethodGet, "/v1/crontabs/"+url.PathEscape(owner), nil)
	if err != nil {
		return err
	}
	if jsonOutput {
		return prettyPrintJSON(os.Stdout, data)
	}
	var resp crontabResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.Content == "" {
		fmt.Printf("no crontab for %s\n", resp.Owner)
		return nil
	}
	fmt.Print(resp.Content)
	if !strings.HasSuffix(resp.Content, "\n") {
		fmt.Println()
	}
	return nil
}

func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
