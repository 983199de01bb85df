// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agora-ai/agora/pkg/logging"
	"github.com/agora-ai/agora/pkg/ux"
	"github.com/agora-ai/agora/services/orchestrator/datatypes"
)

var (
	cliLogger *logging.Logger

	serverURL    string
	formatName   string
	rounds       int
	teamName     string
	agentSpecs   []string
	noWatch      bool
	showThinking bool
	verifyChain  bool

	rootCmd = &cobra.Command{
		Use:   "agora",
		Short: "A CLI for running multi-agent LLM debates on an Agora orchestrator",
		Long: `Agora pits teams of LLM agents against each other in structured,
judged debates. Start a debate, watch the argument stream live, and get
a scored verdict at the end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	debateCmd = &cobra.Command{
		Use:   "debate [topic]",
		Short: "Start a debate and stream it live",
		Long: `Starts a debate on the given topic and streams the transcript as the
agents argue. Agents come from --agent flags, a named --team from the
server's roster, or the roster's default team.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDebate,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Stream a debate's transcript, replaying from the start",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List debate sessions on the orchestrator",
		RunE:  runList,
	}

	statusCmd = &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show a debate's full snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel [session-id]",
		Short: "Cancel a running debate",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a finished debate ahead of its retention window",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check orchestrator and backend health",
		RunE:  runHealth,
	}
)

func init() {
	// CLI output goes to stdout through the renderer; diagnostics land in
	// a JSON log file when AGORA_LOG_DIR is set, and stay quiet otherwise.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cliLogger = logging.New(logging.Config{
			LogDir:  os.Getenv("AGORA_LOG_DIR"),
			Service: "cli",
			Quiet:   true,
		})
		slog.SetDefault(cliLogger.Logger)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		cliLogger.Close()
	}

	defaultServer := os.Getenv("AGORA_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:12310"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"orchestrator base URL (env: AGORA_SERVER)")

	debateCmd.Flags().StringVar(&formatName, "format", "adversarial",
		"debate format: adversarial, collaborative, competitive, or a roster format")
	debateCmd.Flags().IntVar(&rounds, "rounds", 0, "round count (server default when 0)")
	debateCmd.Flags().StringVar(&teamName, "team", "", "named team from the server roster")
	debateCmd.Flags().StringArrayVar(&agentSpecs, "agent", nil,
		"inline agent as key=value pairs, e.g. name=critic,model=qwen3:8b,stance=oppose,role=devil")
	debateCmd.Flags().BoolVar(&noWatch, "no-watch", false,
		"print the session id and exit instead of streaming")

	for _, cmd := range []*cobra.Command{debateCmd, watchCmd} {
		cmd.Flags().BoolVar(&showThinking, "show-thinking", false,
			"echo agent reasoning deltas above each answer")
		cmd.Flags().BoolVar(&verifyChain, "verify", false,
			"verify the event hash chain after the stream ends")
	}

	rootCmd.AddCommand(debateCmd, watchCmd, listCmd, statusCmd, cancelCmd,
		deleteCmd, healthCmd)
}

// parseAgentSpec parses one --agent value of comma-separated key=value
// pairs. Models contain colons, so a positional syntax won't do.
func parseAgentSpec(spec string) (datatypes.AgentSpec, error) {
	var agent datatypes.AgentSpec
	for _, pair := range strings.Split(spec, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return agent, fmt.Errorf("agent spec %q: expected key=value, got %q", spec, pair)
		}
		switch strings.TrimSpace(key) {
		case "name":
			agent.Name = value
		case "model":
			agent.Model = value
		case "role":
			agent.Role = value
		case "stance":
			agent.Stance = value
		case "persona":
			agent.Persona = value
		default:
			return agent, fmt.Errorf("agent spec %q: unknown key %q", spec, key)
		}
	}
	if agent.Name == "" || agent.Model == "" {
		return agent, fmt.Errorf("agent spec %q: name and model are required", spec)
	}
	return agent, nil
}

// watchContext cancels on Ctrl-C so a watched debate detaches cleanly;
// the debate itself keeps running server-side.
func watchContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func streamSession(ctx context.Context, client *apiClient, sessionID string) error {
	body, err := client.StreamDebate(ctx, sessionID)
	if err != nil {
		return err
	}
	defer body.Close()

	renderer := ux.NewTerminalRenderer(os.Stdout, ux.IsInteractive(), showThinking)
	result, err := ux.NewStreamProcessor(renderer).Process(body)
	if err != nil {
		return err
	}

	if verifyChain {
		verification := ux.VerifyChain(result.Events)
		if !verification.Valid {
			ux.PrintError("integrity check FAILED: %s", verification.ErrorMessage)
			return fmt.Errorf("event chain verification failed")
		}
		ux.PrintSuccess("integrity verified: %d events, final hash %s",
			verification.ChainLength, verification.FinalHash[:12])
	}
	if result.FailReason != "" {
		return fmt.Errorf("debate failed: %s", result.FailReason)
	}
	return nil
}

func runDebate(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	req := datatypes.CreateDebateRequest{
		Topic:  strings.Join(args, " "),
		Format: formatName,
		Rounds: rounds,
		Team:   teamName,
	}
	for _, spec := range agentSpecs {
		agent, err := parseAgentSpec(spec)
		if err != nil {
			return err
		}
		req.Agents = append(req.Agents, agent)
	}

	ctx, cancel := watchContext()
	defer cancel()

	resp, err := client.CreateDebate(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(ux.Styles.Title.Render("⚖  " + req.Topic))
	fmt.Println(ux.Styles.Muted.Render("session " + resp.SessionId))

	if noWatch {
		fmt.Printf("watch with: agora watch %s\n", resp.SessionId)
		return nil
	}
	return streamSession(ctx, client, resp.SessionId)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()
	return streamSession(ctx, newAPIClient(serverURL), args[0])
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()

	list, err := newAPIClient(serverURL).ListDebates(ctx)
	if err != nil {
		return err
	}
	if list.Count == 0 {
		fmt.Println("no debates")
		return nil
	}
	for _, snap := range list.Debates {
		age := time.Since(snap.CreatedAt).Round(time.Second)
		line := fmt.Sprintf("%s  %-10s  %2d/%d rounds  %6s  %s",
			snap.ID, snap.Status, snap.CurrentRound, snap.TotalRounds, age, snap.Topic)
		fmt.Println(line)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()

	raw, err := newAPIClient(serverURL).GetDebate(ctx, args[0])
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()

	if err := newAPIClient(serverURL).CancelDebate(ctx, args[0]); err != nil {
		return err
	}
	ux.PrintSuccess("cancellation requested for %s", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()

	if err := newAPIClient(serverURL).DeleteDebate(ctx, args[0]); err != nil {
		return err
	}
	ux.PrintSuccess("deleted %s", args[0])
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := watchContext()
	defer cancel()

	health, err := newAPIClient(serverURL).Health(ctx)
	if err != nil {
		return err
	}
	if health["status"] == "ok" {
		ux.PrintSuccess("orchestrator ok, backend %s", health["backend"])
	} else {
		fmt.Println(ux.Styles.Warning.Render("⚠ orchestrator degraded: backend " +
			health["backend"]))
	}
	return nil
}
