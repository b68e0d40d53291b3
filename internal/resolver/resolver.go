// Package resolver integrates agent branches into the canonical branch
// through a four-tier escalation: clean merge, keep-incoming marker
// resolution, per-file AI resolution, and full reimplementation as a
// synthetic merge commit.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/events"
	"github.com/overstoryai/overstory/internal/git"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/pkg/models"
)

// DefaultAITimeout bounds one AI resolution per file.
const DefaultAITimeout = 120 * time.Second

// Config carries the resolver's knobs and optional collaborators.
type Config struct {
	// RepoPath is the checkout the merges run in.
	RepoPath string
	// Canonical is the branch agent work lands on. Empty means "main".
	Canonical string
	// AITimeout bounds each per-file AI call. Zero means DefaultAITimeout.
	AITimeout time.Duration
	// Model overrides the invoker's default model when non-empty.
	Model string
	// Validate gates AI output. Nil means LooksLikeCode.
	Validate Validator
	// Expertise is the optional conflict-history service.
	Expertise ExpertiseClient
	// Sink receives resolution events. Optional.
	Sink *events.Sink
}

// Resolver escalates merge entries through the tiers. It never touches
// the queue; see Runner for queue-driven operation.
type Resolver struct {
	git     git.Runner
	invoker ai.Invoker
	cfg     Config
}

// New creates a Resolver. The git runner and invoker are required.
func New(g git.Runner, invoker ai.Invoker, cfg Config) *Resolver {
	if cfg.Canonical == "" {
		cfg.Canonical = "main"
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = DefaultAITimeout
	}
	if cfg.Validate == nil {
		cfg.Validate = LooksLikeCode
	}
	return &Resolver{git: g, invoker: invoker, cfg: cfg}
}

// Resolve integrates entry into the canonical branch. It always
// returns a result; infrastructure errors surface in ErrorMessage with
// Success false. Each tier's success short-circuits the escalation.
func (r *Resolver) Resolve(ctx context.Context, entry *models.MergeEntry) *models.MergeResult {
	result := &models.MergeResult{Entry: *entry}
	skip, past := r.pattern(ctx, entry.Files)

	res, err := r.git.Merge(ctx, entry.BranchName, mergeMessage(entry))
	if err != nil {
		r.abortQuietly(ctx)
		return r.finish(result, models.TierCleanMerge, errs.Merge("merge %s", entry.BranchName).Wrap(err))
	}
	if res.ExitCode == 0 {
		result.Success = true
		return r.finish(result, models.TierCleanMerge, nil)
	}

	conflicts, err := r.git.ConflictedFiles(ctx)
	if err != nil {
		r.abortQuietly(ctx)
		return r.finish(result, models.TierCleanMerge, errs.Merge("list conflicts for %s", entry.BranchName).Wrap(err))
	}
	if len(conflicts) == 0 {
		// Non-conflict merge failure: dirty tree, unknown branch.
		r.abortQuietly(ctx)
		return r.finish(result, models.TierCleanMerge,
			errs.Merge("merge of %s failed without conflicts", entry.BranchName).With("stderr", firstStderr(res.Stderr)))
	}
	result.ConflictFiles = conflicts
	logging.Info(logging.CatMerge, "clean merge failed",
		"branch", entry.BranchName, "conflicts", len(conflicts))

	lastTier := models.TierCleanMerge
	lastErr := error(errs.Merge("clean merge of %s exited %d", entry.BranchName, res.ExitCode))

	if !skip[models.TierAutoResolve] {
		lastTier = models.TierAutoResolve
		if lastErr = r.autoResolve(ctx, conflicts); lastErr == nil {
			result.Success = true
			return r.finish(result, lastTier, nil)
		}
		logging.Debug(logging.CatMerge, "auto-resolve failed", "branch", entry.BranchName, "error", lastErr.Error())
	}

	if !skip[models.TierAIResolve] {
		lastTier = models.TierAIResolve
		if lastErr = r.aiResolve(ctx, entry, conflicts, past); lastErr == nil {
			result.Success = true
			return r.finish(result, lastTier, nil)
		}
		logging.Debug(logging.CatMerge, "ai-resolve failed", "branch", entry.BranchName, "error", lastErr.Error())
	}

	if !skip[models.TierReimagine] {
		lastTier = models.TierReimagine
		if lastErr = r.reimagine(ctx, entry); lastErr == nil {
			result.Success = true
			return r.finish(result, lastTier, nil)
		}
		logging.Debug(logging.CatMerge, "reimagine failed", "branch", entry.BranchName, "error", lastErr.Error())
	}

	r.abortQuietly(ctx)
	return r.finish(result, lastTier, lastErr)
}

// autoResolve keeps the incoming side of every conflicted file. All
// files are parsed before anything is written, so a malformed file
// leaves the conflict state untouched for the next tier.
func (r *Resolver) autoResolve(ctx context.Context, conflicts []string) error {
	resolved := make(map[string]string, len(conflicts))
	for _, rel := range conflicts {
		raw, err := os.ReadFile(filepath.Join(r.cfg.RepoPath, rel))
		if err != nil {
			return errs.Merge("read conflicted file %s", rel).Wrap(err)
		}
		clean, ok := resolveKeepIncoming(string(raw))
		if !ok {
			return errs.Merge("no well-formed conflict markers in %s", rel)
		}
		resolved[rel] = clean
	}
	if err := r.writeAndStage(ctx, conflicts, resolved); err != nil {
		return err
	}
	return r.git.CommitNoEdit(ctx)
}

// aiResolve asks the model for each conflicted file and applies the
// proposals only when every file validates.
func (r *Resolver) aiResolve(ctx context.Context, entry *models.MergeEntry, conflicts []string, past []PastResolution) error {
	resolved := make(map[string]string, len(conflicts))
	for _, rel := range conflicts {
		raw, err := os.ReadFile(filepath.Join(r.cfg.RepoPath, rel))
		if err != nil {
			return errs.Merge("read conflicted file %s", rel).Wrap(err)
		}
		ours := r.showOrEmpty(ctx, r.cfg.Canonical, rel)
		theirs := r.showOrEmpty(ctx, entry.BranchName, rel)

		proposal, err := r.invokeFile(ctx, resolveSystem, buildResolvePrompt(rel, ours, theirs, string(raw), past))
		if err != nil {
			return errs.Merge("ai resolution of %s", rel).Wrap(err)
		}
		content := extractContent(proposal)
		if !r.cfg.Validate(rel, content) {
			return errs.Merge("ai output for %s rejected by validator", rel)
		}
		resolved[rel] = ensureTrailingNewline(content)
	}
	if err := r.writeAndStage(ctx, conflicts, resolved); err != nil {
		return err
	}
	return r.git.CommitNoEdit(ctx)
}

// reimagine abandons the textual merge and rebuilds every modified
// path from both versions, committing the result as a synthetic merge
// with both parents recorded.
func (r *Resolver) reimagine(ctx context.Context, entry *models.MergeEntry) error {
	if err := r.git.AbortMerge(ctx); err != nil {
		return errs.Merge("abort merge before reimagine").Wrap(err)
	}

	paths := entry.Files
	if len(paths) == 0 {
		var err error
		paths, err = r.git.ChangedFiles(ctx, r.cfg.Canonical, entry.BranchName)
		if err != nil {
			return errs.Merge("list changed files for %s", entry.BranchName).Wrap(err)
		}
	}
	if len(paths) == 0 {
		return errs.Merge("no paths to reimagine for %s", entry.BranchName)
	}

	rebuilt := make(map[string]string, len(paths))
	removed := make([]string, 0)
	for _, rel := range paths {
		ours := r.showOrEmpty(ctx, r.cfg.Canonical, rel)
		theirs := r.showOrEmpty(ctx, entry.BranchName, rel)
		switch {
		case ours == "" && theirs == "":
			return errs.Merge("no content on either side for %s", rel)
		case ours == "":
			// New file on the agent branch; take it verbatim.
			rebuilt[rel] = theirs
		case theirs == "":
			// Agent deleted the file; honor the deletion.
			removed = append(removed, rel)
		default:
			proposal, err := r.invokeFile(ctx, reimagineSystem, buildReimaginePrompt(rel, ours, theirs))
			if err != nil {
				return errs.Merge("reimagine %s", rel).Wrap(err)
			}
			content := extractContent(proposal)
			if !r.cfg.Validate(rel, content) {
				return errs.Merge("reimagined output for %s rejected by validator", rel)
			}
			rebuilt[rel] = ensureTrailingNewline(content)
		}
	}

	for _, rel := range paths {
		content, ok := rebuilt[rel]
		if !ok {
			continue
		}
		if err := writeFile(r.cfg.RepoPath, rel, content); err != nil {
			return err
		}
	}
	for _, rel := range removed {
		if err := os.Remove(filepath.Join(r.cfg.RepoPath, rel)); err != nil && !os.IsNotExist(err) {
			return errs.Merge("remove %s", rel).Wrap(err)
		}
	}

	_, err := r.git.CommitWithParents(ctx, mergeMessage(entry), r.cfg.Canonical, entry.BranchName)
	return err
}

// writeAndStage writes resolved contents in conflict order and stages
// each path.
func (r *Resolver) writeAndStage(ctx context.Context, order []string, resolved map[string]string) error {
	for _, rel := range order {
		content, ok := resolved[rel]
		if !ok {
			continue
		}
		if err := writeFile(r.cfg.RepoPath, rel, content); err != nil {
			return err
		}
		if err := r.git.Add(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// invokeFile runs one AI call under the per-file deadline.
func (r *Resolver) invokeFile(ctx context.Context, system, prompt string) (string, error) {
	fileCtx, cancel := context.WithTimeout(ctx, r.cfg.AITimeout)
	defer cancel()
	resp, err := r.invoker.Invoke(fileCtx, ai.Request{System: system, Prompt: prompt, Model: r.cfg.Model})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// showOrEmpty reads a file at a rev, treating any failure as absence.
func (r *Resolver) showOrEmpty(ctx context.Context, rev, path string) string {
	content, err := r.git.ShowFile(ctx, rev, path)
	if err != nil {
		return ""
	}
	return content
}

// pattern resolves conflict-history guidance for a file set. The merge
// attempt itself creates the conflict state, so the clean-merge tier
// is never skipped.
func (r *Resolver) pattern(ctx context.Context, files []string) (map[models.Tier]bool, []PastResolution) {
	skip := make(map[models.Tier]bool)
	if r.cfg.Expertise == nil || len(files) == 0 {
		return skip, nil
	}
	h, err := r.cfg.Expertise.History(ctx, files)
	if err != nil {
		logging.Warn(logging.CatMerge, "expertise lookup failed", "error", err.Error())
		return skip, nil
	}
	if h == nil {
		return skip, nil
	}
	for _, t := range h.SkipTiers {
		if t != models.TierCleanMerge {
			skip[t] = true
		}
	}
	return skip, h.PastResolutions
}

// finish stamps the outcome on result and records it.
func (r *Resolver) finish(result *models.MergeResult, tier models.Tier, err error) *models.MergeResult {
	result.Tier = tier
	if err != nil {
		result.ErrorMessage = err.Error()
		logging.ErrorErr(logging.CatMerge, "merge failed", err,
			"branch", result.Entry.BranchName, "tier", string(tier))
	} else {
		logging.Info(logging.CatMerge, "merge succeeded",
			"branch", result.Entry.BranchName, "tier", string(tier))
	}
	r.recordOutcome(result)
	return result
}

// recordOutcome reports the result to the event sink and the expertise
// service. Both paths are fire-and-forget: they never block or fail
// the merge.
func (r *Resolver) recordOutcome(result *models.MergeResult) {
	if r.cfg.Sink != nil {
		payload, _ := json.Marshal(map[string]any{
			"branch":         result.Entry.BranchName,
			"success":        result.Success,
			"tier":           string(result.Tier),
			"conflict_files": result.ConflictFiles,
		})
		level := models.LevelInfo
		if !result.Success {
			level = models.LevelError
		}
		r.cfg.Sink.Record(models.StoredEvent{
			AgentName: result.Entry.AgentName,
			Kind:      models.EventCustom,
			Level:     level,
			Payload:   string(payload),
		})
	}

	if r.cfg.Expertise == nil {
		return
	}
	outcome := Outcome{
		Branch:  result.Entry.BranchName,
		Files:   result.Entry.Files,
		Tier:    result.Tier,
		Success: result.Success,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.cfg.Expertise.RecordOutcome(ctx, outcome); err != nil {
			logging.Warn(logging.CatMerge, "expertise record failed",
				"branch", outcome.Branch, "error", err.Error())
		}
	}()
}

// abortQuietly cancels any in-progress merge; failure only means there
// was nothing to abort.
func (r *Resolver) abortQuietly(ctx context.Context) {
	if err := r.git.AbortMerge(ctx); err != nil {
		logging.Debug(logging.CatMerge, "merge abort", "error", err.Error())
	}
}

func mergeMessage(entry *models.MergeEntry) string {
	msg := fmt.Sprintf("Merge branch '%s'", entry.BranchName)
	if entry.BeadID != "" {
		msg += fmt.Sprintf(" (%s)", entry.BeadID)
	}
	return msg
}

func writeFile(root, rel, content string) error {
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return errs.Merge("create directory for %s", rel).Wrap(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return errs.Merge("write %s", rel).Wrap(err)
	}
	return nil
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func firstStderr(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
