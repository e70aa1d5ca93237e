// Package main wires the orchestration core's collaborators together
// behind a cobra command tree: chat (default), retry, and sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orchestra/internal/config"
	"orchestra/internal/llmclient"
	"orchestra/internal/logging"
	"orchestra/internal/permission"
	"orchestra/internal/speaker"
	"orchestra/internal/store"
	"orchestra/internal/summarizer"
	"orchestra/internal/tools"
	"orchestra/internal/tools/builtin"
	"orchestra/internal/turn"
	"orchestra/internal/turnmgr"
	"orchestra/internal/types"
	"orchestra/internal/ui"
)

var (
	verbose   bool
	workspace string
	opTimeout time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orchestra",
	Short: "orchestra - a multi-model conversation orchestration core",
	Long: `orchestra routes one human message to several AI participants,
decides in parallel who should speak, runs each speaker's response and
tool-calling loop in turn, and persists the conversation.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Use == "orchestra" && cmd.CalledAs() == "orchestra" {
			return nil
		}
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

var retryCmd = &cobra.Command{
	Use:   "retry <session-id> <participant-id>",
	Short: "Re-run one participant's turn without re-evaluating who speaks",
	Args:  cobra.ExactArgs(2),
	RunE:  runRetry,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and inspect saved sessions",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	RunE:  runSessionsList,
}

var sessionsLoadCmd = &cobra.Command{
	Use:   "load <session-id>",
	Short: "Print a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsLoad,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 30*time.Minute, "overall operation timeout")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsLoadCmd)

	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// collaborators bundles everything runChat and runRetry need once a
// config has been loaded, so both commands build it the same way.
type collaborators struct {
	store        *store.SQLiteStore
	participants []types.Participant
	executor     *turn.Executor
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return config.FindWorkspaceRoot()
}

func buildCollaborators(ctx context.Context, ws string, sessionID string) (*collaborators, error) {
	cfgPath := config.DefaultConfigPath(ws)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Initialize(ws); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(ws, ".orchestra", "orchestra.db")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := tools.NewRegistry()
	builtin.RegisterFileTools(reg)
	builtin.RegisterShellTools(reg, cfg.Execution)
	builtin.RegisterGitTools(reg)

	participants, err := resolveParticipants(ctx, cfg)
	if err != nil {
		return nil, err
	}

	perms := permission.New(permission.Config{
		SessionID: sessionID,
		Overrides: cfg.Permissions.Overrides,
		Blocked:   cfg.Permissions.Blocked,
	})

	evaluator := speaker.New(speaker.Config{
		Timeout:          cfg.Deadlines.Evaluation,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	turnMgr := turnmgr.New(turnmgr.Strategy(cfg.TurnManager.Strategy), cfg.TurnManager.FixedOrder)

	summClient, err := summarizerClient(ctx, cfg, participants)
	if err != nil {
		return nil, err
	}
	summ := summarizer.New(summarizer.Config{Threshold: cfg.Summarization.Threshold}, summClient, st)

	ex := turn.New(st, reg, perms, evaluator, turnMgr, summ, turn.Config{
		ToolDeadline: cfg.Deadlines.Tool,
	})

	return &collaborators{store: st, participants: participants, executor: ex}, nil
}

// resolveParticipants turns each configured participant into a
// types.Participant backed by a concrete Model Client. Only the Gemini
// provider has a production client; anything else fails loudly rather
// than silently running with a fake one.
func resolveParticipants(ctx context.Context, cfg *config.Config) ([]types.Participant, error) {
	out := make([]types.Participant, 0, len(cfg.Participants))
	for _, pc := range cfg.Participants {
		if !pc.Enabled {
			out = append(out, types.Participant{ID: pc.ID, DisplayName: pc.DisplayName, Color: pc.Color, Enabled: false, MaxTokens: pc.MaxTokens})
			continue
		}
		client, err := buildClient(ctx, cfg, pc)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", pc.ID, err)
		}
		out = append(out, types.Participant{
			ID:          pc.ID,
			DisplayName: pc.DisplayName,
			Color:       pc.Color,
			Enabled:     true,
			MaxTokens:   pc.MaxTokens,
			Client:      client,
		})
	}
	return out, nil
}

func buildClient(ctx context.Context, cfg *config.Config, pc config.ParticipantConfig) (types.LLMClient, error) {
	switch pc.Provider {
	case "gemini", "":
		apiKey := cfg.Gemini.APIKey
		if pk, ok := cfg.Providers[pc.Provider]; ok && pk.APIKey != "" {
			apiKey = pk.APIKey
		}
		model := pc.ModelID
		if model == "" {
			model = cfg.Gemini.Model
		}
		return llmclient.NewGemini(ctx, llmclient.GeminiConfig{
			APIKey:             apiKey,
			Model:              model,
			EnableThinking:     cfg.Gemini.EnableThinking,
			EnableGoogleSearch: cfg.Gemini.EnableGoogleSearch,
			EnableURLContext:   cfg.Gemini.EnableURLContext,
		})
	default:
		return nil, fmt.Errorf("no model client implementation for provider %q", pc.Provider)
	}
}

// summarizerClient picks the Model Client the Summarizer uses to
// compress history: the first enabled participant's client, since the
// summarizer need not be a conversation participant itself but nothing
// stands up a client dedicated to summarization alone.
func summarizerClient(ctx context.Context, cfg *config.Config, participants []types.Participant) (types.LLMClient, error) {
	for _, p := range participants {
		if p.Enabled && p.Client != nil {
			return p.Client, nil
		}
	}
	return nil, fmt.Errorf("no enabled participant available to back the summarizer")
}

func runChat(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	ctx, cancel := signalContext(context.Background(), opTimeout)
	defer cancel()

	sessionID := types.NewSessionID()
	cs, err := buildCollaborators(ctx, ws, sessionID)
	if err != nil {
		return err
	}
	defer cs.store.Close()

	session, err := cs.store.CreateSession(ctx, "chat", ws)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	merged := make(chan types.Event, 32)
	submit := func(text string) {
		go func() {
			for ev := range cs.executor.RunTurn(ctx, session, cs.participants, text) {
				merged <- ev
			}
		}()
	}

	return ui.Run(merged, submit)
}

func runRetry(cmd *cobra.Command, args []string) error {
	sessionID, participantID := args[0], args[1]

	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	cs, err := buildCollaborators(ctx, ws, sessionID)
	if err != nil {
		return err
	}
	defer cs.store.Close()

	session, err := cs.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("no such session: %s", sessionID)
	}

	events := cs.executor.RetrySpeaker(ctx, session, cs.participants, participantID)
	for ev := range events {
		printEvent(ev)
	}
	return nil
}

func printEvent(ev types.Event) {
	switch ev.Type {
	case types.EventResponseChunk:
		fmt.Print(ev.Text)
	case types.EventResponseComplete:
		fmt.Println()
	case types.EventError:
		fmt.Fprintf(os.Stderr, "error (%s): %s\n", ev.Kind, ev.Message)
	case types.EventTurnComplete:
		fmt.Println("-- turn complete --")
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	cfg, err := config.Load(config.DefaultConfigPath(ws))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, s := range sessions {
		fmt.Printf("%s  %-20s  %s\n", s.ID, s.Name, s.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%d session(s)\n", len(sessions))
	return nil
}

func runSessionsLoad(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	cfg, err := config.Load(config.DefaultConfigPath(ws))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("no such session: %s", sessionID)
	}

	msgs, err := st.LoadMessages(ctx, sessionID, nil, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	for _, m := range msgs {
		who := string(m.Role)
		if m.AuthorModelID != "" {
			who = m.AuthorModelID
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.Kitchen), who, m.Content)
	}
	return nil
}

// signalContext wraps ctx with a timeout that is also canceled on
// SIGINT/SIGTERM, so Ctrl+C ends an interactive chat session cleanly.
func signalContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
