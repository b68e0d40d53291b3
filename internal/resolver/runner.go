package resolver

import (
	"context"
	"fmt"

	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/mergeq"
	"github.com/overstoryai/overstory/pkg/models"
)

// mailFrom is the sender name on merge outcome notifications.
const mailFrom = "coordinator"

// Notifier sends protocol mail about merge outcomes.
type Notifier interface {
	SendProtocol(from, to, subject string, mt models.MessageType, payload any) ([]string, error)
}

// Runner drains the merge queue through a resolver. Each dequeued
// entry gets exactly one status update, regardless of outcome.
type Runner struct {
	queue    *mergeq.Queue
	resolver *Resolver
	notifier Notifier
}

// NewRunner creates a queue runner. The notifier may be nil.
func NewRunner(queue *mergeq.Queue, resolver *Resolver, notifier Notifier) *Runner {
	return &Runner{queue: queue, resolver: resolver, notifier: notifier}
}

// RunNext works the queue head. Returns nil when no entry is pending.
func (r *Runner) RunNext(ctx context.Context) (*models.MergeResult, error) {
	entry, err := r.queue.Dequeue()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	result := r.resolver.Resolve(ctx, entry)

	status := models.MergeMerged
	if !result.Success {
		// Conflicts that survived all tiers finalize as conflict;
		// anything else is an infrastructure failure.
		status = models.MergeFailed
		if len(result.ConflictFiles) > 0 {
			status = models.MergeConflict
		}
	}
	tier := result.Tier
	if err := r.queue.UpdateStatus(entry.ID, status, &tier); err != nil {
		return result, err
	}
	r.notify(result, status)
	return result, nil
}

// Drain works entries until the queue is empty or the context expires.
func (r *Runner) Drain(ctx context.Context) ([]models.MergeResult, error) {
	var results []models.MergeResult
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.RunNext(ctx)
		if err != nil {
			return results, err
		}
		if result == nil {
			return results, nil
		}
		results = append(results, *result)
	}
}

// notify mails the owning agent about the outcome. Failures are logged
// and dropped; mail must never wedge the queue.
func (r *Runner) notify(result *models.MergeResult, status models.MergeStatus) {
	if r.notifier == nil || result.Entry.AgentName == "" {
		return
	}
	mt := models.MessageMerged
	subject := fmt.Sprintf("merged: %s", result.Entry.BranchName)
	if !result.Success {
		mt = models.MessageMergeFailed
		subject = fmt.Sprintf("merge failed: %s", result.Entry.BranchName)
	}
	payload := map[string]any{
		"branch":         result.Entry.BranchName,
		"status":         string(status),
		"tier":           string(result.Tier),
		"conflict_files": result.ConflictFiles,
		"error":          result.ErrorMessage,
	}
	if _, err := r.notifier.SendProtocol(mailFrom, result.Entry.AgentName, subject, mt, payload); err != nil {
		logging.Warn(logging.CatMerge, "merge notification failed",
			"agent", result.Entry.AgentName, "error", err.Error())
	}
}
