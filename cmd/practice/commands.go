package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/practice-lms/practice/internal/model"
	"github.com/practice-lms/practice/internal/store"
	"github.com/practice-lms/practice/internal/teximport"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [paths...]",
		Short: "Import questions from LaTeX files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "practice.db", "SQLite database path")
	f.StringSliceP("tag", "t", nil, "Extra tags applied to every imported question (repeatable)")
	f.Int64("created-by", 0, "User id recorded as the question author (0 = none)")
	f.Bool("dry-run", false, "Parse and report without writing to the database")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	files, err := collectTexFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tex files found in %v", args)
	}

	dryRun := v.GetBool("dry-run")
	extraTags := v.GetStringSlice("tag")
	var createdBy *int64
	if id := v.GetInt64("created-by"); id != 0 {
		createdBy = &id
	}

	var db *store.Store
	if !dryRun {
		db, err = store.New(v.GetString("db"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	imported, skipped := 0, 0
	for _, path := range files {
		parsed, err := teximport.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		fileTags := teximport.TagsFromFilename(path)
		for _, pq := range parsed {
			tags := mergeTags(pq.Tags, fileTags, extraTags)

			correct, err := questionAnswer(pq)
			if err != nil {
				slog.Warn("skipping question with bad answer", "file", path, "error", err)
				skipped++
				continue
			}

			if dryRun {
				fmt.Printf("%s: type=%s tags=%v choices=%d answer=%q stem=%q\n",
					path, pq.Type, tags, len(pq.Choices), pq.Answer, truncate(pq.Stem, 60))
				imported++
				continue
			}

			exists, err := db.QuestionExistsWithStem(pq.Stem)
			if err != nil {
				return fmt.Errorf("check duplicate: %w", err)
			}
			if exists {
				slog.Info("duplicate stem, skipping", "file", path)
				skipped++
				continue
			}

			_, err = db.InsertQuestion(model.Question{
				Type:      pq.Type,
				Stem:      pq.Stem,
				Choices:   pq.Choices,
				Correct:   correct,
				Tags:      tags,
				CreatedBy: createdBy,
			})
			if err != nil {
				return fmt.Errorf("insert question from %s: %w", path, err)
			}
			imported++
		}
	}

	slog.Info("import finished", "files", len(files), "imported", imported, "skipped", skipped, "dry_run", dryRun)
	return nil
}

// questionAnswer converts the parsed answer text into the stored key for
// the question's type.
func questionAnswer(pq teximport.ParsedQuestion) (model.Answer, error) {
	switch pq.Type {
	case model.TypeMCQ:
		return model.Answer{Choice: pq.Answer}, nil
	case model.TypeNumeric:
		val, err := strconv.ParseFloat(strings.TrimSpace(pq.Answer), 64)
		if err != nil {
			return model.Answer{}, fmt.Errorf("numeric answer %q: %w", pq.Answer, err)
		}
		return model.Answer{Value: &val}, nil
	case model.TypeShort, model.TypeAlgebra:
		return model.Answer{Text: pq.Answer}, nil
	default:
		return model.Answer{}, fmt.Errorf("unknown question type %q", pq.Type)
	}
}

func collectTexFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".tex") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// mergeTags unions tag lists, keeping first-seen order, case-insensitive.
func mergeTags(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, t := range list {
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export student results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "practice.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAllResults()
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

func ensureAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure-admin",
		Short: "Create an admin account if none exists",
		RunE:  runEnsureAdmin,
	}
	f := cmd.Flags()
	f.String("db", "practice.db", "SQLite database path")
	f.StringP("username", "u", "admin", "Admin username")
	f.StringP("password", "p", "", "Admin password (or set PRACTICE_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runEnsureAdmin(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exists, err := db.AdminExists()
	if err != nil {
		return err
	}
	if exists {
		slog.Info("admin account already present")
		return nil
	}

	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or PRACTICE_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	username := v.GetString("username")
	_, err = db.CreateUser(model.User{
		Username:     username,
		FirstName:    "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("created admin user", "username", username)
	return nil
}

func fixMCQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-mcq",
		Short: "Retype questions that have choices but are not marked mcq",
		RunE:  runFixMCQ,
	}
	f := cmd.Flags()
	f.String("db", "practice.db", "SQLite database path")
	f.Bool("dry-run", false, "Report without writing to the database")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runFixMCQ(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	questions, err := db.ListQuestionsWithChoicesNotMCQ()
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}

	dryRun := v.GetBool("dry-run")
	for _, q := range questions {
		if dryRun {
			fmt.Printf("would fix #%d (%s): %s\n", q.ID, q.Type, truncate(q.Stem, 60))
			continue
		}
		if err := db.SetQuestionType(q.ID, model.TypeMCQ); err != nil {
			return fmt.Errorf("retype question %d: %w", q.ID, err)
		}
	}

	slog.Info("fix-mcq finished", "count", len(questions), "dry_run", dryRun)
	return nil
}

func renderAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render-assets",
		Short: "Render display images for questions that need them",
		RunE:  runRenderAssets,
	}
	f := cmd.Flags()
	f.String("db", "practice.db", "SQLite database path")
	f.String("media-root", "media", "Directory for rendered question assets")
	f.String("tectonic", "", "Path to the tectonic binary (default: ./bin/tectonic, then PATH)")
	f.String("pdftocairo", "", "Path to pdftocairo (default: PATH)")
	f.String("pdftoppm", "", "Path to pdftoppm (default: PATH)")
	f.Duration("compile-timeout", defaultCompileTimeout, "TeX compile timeout per question")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runRenderAssets(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	questions, err := db.ListQuestionsNeedingRender()
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		slog.Info("no questions need rendering")
		return nil
	}

	renderer := newRenderer(v)
	mediaRoot := v.GetString("media-root")
	ctx := context.Background()

	rendered, failed := 0, 0
	for i := range questions {
		q := &questions[i]
		if q.ContentHash == "" {
			q.ContentHash = q.ComputeContentHash()
		}
		relpath, format, err := renderer.RenderQuestionAsset(ctx, q, mediaRoot)
		if err != nil {
			slog.Error("render failed", "question_id", q.ID, "error", err)
			failed++
			continue
		}
		if err := db.SetQuestionAsset(q.ID, relpath, format, q.ContentHash); err != nil {
			return fmt.Errorf("record asset for question %d: %w", q.ID, err)
		}
		rendered++
	}

	slog.Info("render-assets finished", "rendered", rendered, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d questions failed to render", failed)
	}
	return nil
}
