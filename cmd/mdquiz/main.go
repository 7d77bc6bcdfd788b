package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mdquiz/internal/exam"
	"github.com/pavelanni/mdquiz/internal/grading"
	"github.com/pavelanni/mdquiz/internal/handler"
	appI18n "github.com/pavelanni/mdquiz/internal/i18n"
	"github.com/pavelanni/mdquiz/internal/kvstore"
	"github.com/pavelanni/mdquiz/internal/llm"
	"github.com/pavelanni/mdquiz/internal/model"
	"github.com/pavelanni/mdquiz/internal/qml"
	"github.com/pavelanni/mdquiz/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mdquiz",
		Short:        "Markdown quizzes with timed assignments and LLM-assisted grading",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, lintCmd(), publishCmd(), candidateCmd(), adminCmd(),
		issueCmd(), gradeCmd(), sweepCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mdquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func addStorageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "mdquiz.db", "SQLite database path (candidates, admins, settings)")
	f.String("data-dir", "data", "Directory for exam and assignment documents")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "Default LLM model name (empty disables automatic short-answer grading)")
	f.Float64("llm-temperature", 0, "Default sampling temperature")
	f.Duration("llm-timeout", 60*time.Second, "Timeout of one rating call")
	f.Int("llm-retries", 3, "Attempts per short answer")
	f.Int("llm-concurrency", grading.DefaultConcurrency, "Simultaneous rating calls")
}

func addExamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("default-duration", "2h", "Time limit for exams that set none (0 = unlimited)")
	f.String("min-submit", "60s", "Least time before a timed exam may be submitted")
	f.Int("max-attempts", 3, "Identity verification attempts per assignment")
	f.Bool("show-score", false, "Let candidates see their score once graded")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("quiz", "q", nil, "Quiz files to publish at startup when changed (repeatable)")
	f.StringP("lang", "l", "en", "Default message language (en, zh)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /quiz)")
	f.String("admin-user", "admin", "Admin account seeded on first start")
	f.String("admin-password", "", "Initial admin password (or set MDQUIZ_ADMIN_PASSWORD)")
	f.Int("workers", 2, "Grading workers")
	f.Int("queue-size", 256, "Grading queue capacity")
	f.Duration("sweep-interval", 15*time.Second, "Interval of the timeout and grading sweep (0 disables)")
	addStorageFlags(cmd)
	addLLMFlags(cmd)
	addExamFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func lintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <file>",
		Short: "Parse a quiz file and report problems",
		Args:  cobra.ExactArgs(1),
		RunE:  runLint,
	}
	cmd.Flags().Bool("json", false, "Print the parsed exam as JSON")
	cmd.Flags().Bool("public", false, "Print the candidate-facing projection as JSON")
	addLogFlags(cmd)
	return cmd
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <file>...",
		Short: "Publish quiz files as new exam versions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPublish,
	}
	addStorageFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func candidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidate",
		Short: "Manage candidates",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a candidate",
		RunE:  runCandidateAdd,
	}
	add.Flags().String("ref", "", "Candidate reference (required)")
	add.Flags().String("name", "", "Full name (required)")
	add.Flags().String("phone", "", "Phone number (required)")
	_ = add.MarkFlagRequired("ref")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("phone")
	addStorageFlags(add)
	addLogFlags(add)

	list := &cobra.Command{
		Use:   "list",
		Short: "List candidates as JSON",
		RunE:  runCandidateList,
	}
	addStorageFlags(list)
	addLogFlags(list)

	cmd.AddCommand(add, list)
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	set := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Create an admin or change its password",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminSetPassword,
	}
	set.Flags().String("password", "", "New password (or set MDQUIZ_PASSWORD)")
	addStorageFlags(set)
	addLogFlags(set)
	cmd.AddCommand(set)
	return cmd
}

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an assignment token",
		RunE:  runIssue,
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam identifier (required)")
	f.String("candidate", "", "Candidate reference (required)")
	f.String("deadline", "", "Expire the assignment if not started within this duration (e.g. 72h)")
	f.String("base-url", "", "Public URL prefix printed with the token")
	_ = cmd.MarkFlagRequired("exam")
	_ = cmd.MarkFlagRequired("candidate")
	addStorageFlags(cmd)
	addExamFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <token>...",
		Short: "Grade submitted assignments now",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGrade,
	}
	addStorageFlags(cmd)
	addLLMFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply timeouts and deadlines to all assignments once",
		RunE:  runSweep,
	}
	addStorageFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export assignment results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("exam", "", "Only export this exam")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStorageFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MDQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mdquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mdquiz")
	v.AddConfigPath("/etc/mdquiz")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// app is the wired set of stores and the orchestrator.
type app struct {
	db  *store.Store
	kv  *kvstore.FileStore
	svc *exam.Service
}

func (a *app) Close() {
	a.db.Close()
}

func openApp(ctx context.Context, v *viper.Viper, rater grading.Rater, cfg exam.Config) (*app, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	kv, err := kvstore.NewFileStore(v.GetString("data-dir"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open data dir: %w", err)
	}

	show, err := db.ShowScore(ctx, cfg.ShowScore)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read settings: %w", err)
	}
	cfg.ShowScore = show

	engine := grading.NewEngine(rater,
		grading.WithConcurrency(v.GetInt("llm-concurrency")),
		grading.WithRetryConfig(retryConfig(v)),
	)
	return &app{db: db, kv: kv, svc: exam.New(kv, db, engine, cfg)}, nil
}

func retryConfig(v *viper.Viper) grading.RetryConfig {
	rc := grading.DefaultRetryConfig()
	if n := v.GetInt("llm-retries"); n > 0 {
		rc.MaxAttempts = n
	}
	if d := v.GetDuration("llm-timeout"); d > 0 {
		rc.CallTimeout = d
	}
	return rc
}

// examConfig reads issuance defaults. Durations accept every format the
// quiz front matter accepts.
func examConfig(v *viper.Viper) (exam.Config, error) {
	cfg := exam.DefaultConfig()
	if v.IsSet("default-duration") {
		d, err := qml.ParseDuration(v.GetString("default-duration"))
		if err != nil {
			return cfg, fmt.Errorf("default-duration: %w", err)
		}
		cfg.DefaultDuration = d
	}
	if v.IsSet("min-submit") {
		d, err := qml.ParseDuration(v.GetString("min-submit"))
		if err != nil {
			return cfg, fmt.Errorf("min-submit: %w", err)
		}
		cfg.MinSubmitFloor = d
	}
	if n := v.GetInt("max-attempts"); n > 0 {
		cfg.MaxAttempts = n
	}
	cfg.ShowScore = v.GetBool("show-score")
	if n := v.GetInt("workers"); n > 0 {
		cfg.Workers = n
	}
	if n := v.GetInt("queue-size"); n > 0 {
		cfg.QueueSize = n
	}
	if v.IsSet("sweep-interval") {
		cfg.SweepInterval = v.GetDuration("sweep-interval")
	}
	return cfg, nil
}

// newRater returns the LLM rater, or nil when no model is configured.
func newRater(ctx context.Context, v *viper.Viper, ping bool) (grading.Rater, error) {
	if v.GetString("llm-model") == "" {
		slog.Warn("no LLM model configured; short answers will need manual review")
		return nil, nil
	}
	client := llm.New(llm.Config{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      v.GetString("llm-key"),
		Model:       v.GetString("llm-model"),
		Temperature: v.GetFloat64("llm-temperature"),
	})
	if ping {
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", client.Model())
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := examConfig(v)
	if err != nil {
		return err
	}
	rater, err := newRater(ctx, v, true)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, v, rater, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Seed default admin if no admins exist.
	if err := seedAdmin(ctx, a.db, v.GetString("admin-user"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := publishChanged(ctx, a, v.GetStringSlice("quiz")); err != nil {
		return fmt.Errorf("publish quizzes: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(a.svc, a.db)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	a.svc.Start(ctx)
	defer a.svc.Stop()

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"data_dir", v.GetString("data-dir"),
		"model", v.GetString("llm-model"),
		"lang", lang,
		"workers", cfg.Workers,
		"sweep_interval", cfg.SweepInterval,
		"show_score", a.svc.ShowScore(),
		"base_path", basePath,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// publishChanged publishes each quiz file whose content differs from the
// last version published from that path.
func publishChanged(ctx context.Context, a *app, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := a.db.PublishedHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check publish status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("quiz file unchanged, skipping", "path", path)
			continue
		}

		res, err := a.svc.PublishExam(ctx, string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, d := range res.Diagnostics {
			slog.Warn("quiz diagnostic", "path", path, "line", d.Line, "message", d.Msg)
		}
		if err := a.db.SetPublishedHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record publish for %s: %w", path, err)
		}
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, username, password string) error {
	count, err := db.AdminCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or MDQUIZ_ADMIN_PASSWORD env var")
	}
	if err := setAdminPassword(ctx, db, username, password); err != nil {
		return err
	}
	slog.Info("seeded default admin", "username", username)
	return nil
}

func setAdminPassword(ctx context.Context, db *store.Store, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.CreateAdmin(ctx, username, string(hash)); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

func runLint(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	spec, diags, err := qml.Parse(string(data))
	if err != nil {
		var perr *qml.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d:%d: %s [%s]\n", args[0], perr.Line, perr.Column, perr.Msg, perr.Kind)
		}
		return fmt.Errorf("%s is not a valid quiz", args[0])
	}
	for _, d := range diags {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: warning: %s\n", args[0], d.Line, d.Msg)
	}

	switch {
	case v.GetBool("public"):
		return printJSON(cmd.OutOrStdout(), qml.Project(spec))
	case v.GetBool("json"):
		return printJSON(cmd.OutOrStdout(), spec)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: exam %q, %d questions, max score %d\n",
		args[0], spec.Meta.ID, len(spec.Questions), spec.MaxScore())
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, v, nil, exam.DefaultConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := a.svc.PublishExam(ctx, string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: warning: %s\n", path, d.Line, d.Msg)
		}
		if err := a.db.SetPublishedHash(ctx, path, sha256sum(data)); err != nil {
			return fmt.Errorf("record publish for %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: published %s v%d (%d questions)\n", path, res.ExamID, res.Version, res.Questions)
	}
	return nil
}

func runCandidateAdd(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c, err := db.CreateCandidate(cmd.Context(), model.Candidate{
		Ref:   v.GetString("ref"),
		Name:  v.GetString("name"),
		Phone: v.GetString("phone"),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), c)
}

func runCandidateList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	list, err := db.ListCandidates(cmd.Context())
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), list)
}

func runAdminSetPassword(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or MDQUIZ_PASSWORD env var")
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return setAdminPassword(cmd.Context(), db, args[0], password)
}

func runIssue(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	cfg, err := examConfig(v)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, v, nil, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	req := exam.IssueRequest{ExamID: v.GetString("exam"), CandidateRef: v.GetString("candidate")}
	if s := v.GetString("deadline"); s != "" {
		secs, err := qml.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("deadline: %w", err)
		}
		d := a.svc.Now().Add(time.Duration(secs) * time.Second)
		req.Deadline = &d
	}

	asg, err := a.svc.IssueAssignment(ctx, req)
	if err != nil {
		return err
	}
	if base := strings.TrimRight(v.GetString("base-url"), "/"); base != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s/api/t/%s\n", base, asg.Token)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), asg.Token)
	return nil
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	rater, err := newRater(ctx, v, false)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, v, rater, exam.DefaultConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, token := range args {
		if err := a.svc.GradeNow(ctx, token); err != nil {
			return err
		}
		res, err := a.svc.GetResult(ctx, token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d (%d%%) needs_review=%t\n",
			token, res.TotalScore, res.MaxScore, res.Percent, res.NeedsReview)
	}
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, v, nil, exam.DefaultConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.svc.Sweep(ctx)
	if err != nil {
		return err
	}
	if rep.Requeued > 0 {
		slog.Info("submitted assignments wait for grading; run `mdquiz grade` or the server", "count", rep.Requeued)
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, v, nil, exam.DefaultConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	export, err := a.svc.Export(ctx, v.GetString("exam"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return printJSON(w, export)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
