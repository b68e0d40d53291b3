package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/overstoryai/overstory/internal/ai"
	"github.com/overstoryai/overstory/internal/logging"
)

// Verdict is the triage outcome for a stalled agent.
type Verdict string

const (
	// VerdictRetry means the agent looks recoverable; nudge it again.
	VerdictRetry Verdict = "retry"
	// VerdictTerminate means the agent is wedged; kill it now.
	VerdictTerminate Verdict = "terminate"
	// VerdictExtend means give the agent more time before escalating.
	VerdictExtend Verdict = "extend"
)

// DefaultTriageTimeout bounds one triage completion.
const DefaultTriageTimeout = 30 * time.Second

// triageTailLines is how much of the session log the model sees.
const triageTailLines = 50

const triageSystem = `You triage stalled coding agents. You will see the tail of an
agent's session log. Decide whether the agent is making progress.

Answer with exactly one word:
  retry     - the agent is stuck on something a reminder will fix
  terminate - the agent is wedged, looping, or producing garbage
  extend    - the agent is mid-task and just needs more time

One word only. No explanation.`

// Triager asks a language model whether a stalled agent deserves more
// time before the ladder escalates past it.
type Triager struct {
	// Model overrides the invoker's default model when non-empty.
	Model string
	// Timeout bounds one triage call.
	Timeout time.Duration

	invoker ai.Invoker
	logsDir string
}

// NewTriager creates a triager reading session logs under logsDir.
func NewTriager(invoker ai.Invoker, logsDir string) *Triager {
	return &Triager{
		Timeout: DefaultTriageTimeout,
		invoker: invoker,
		logsDir: logsDir,
	}
}

// Triage returns a verdict for the named agent. It never fails: a
// missing log, a dead invoker, or an unparseable answer all come back
// as VerdictExtend, since killing on a triage hiccup would be worse
// than waiting one more poll.
func (t *Triager) Triage(ctx context.Context, agent string) Verdict {
	tail, err := tailSessionLog(t.logsDir, agent, triageTailLines)
	if err != nil {
		logging.Debug(logging.CatWatchdog, "triage: no session log", "agent", agent, "error", err.Error())
		return VerdictExtend
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTriageTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf("Agent %q has been idle past its stall threshold. Last %d log lines:\n\n%s",
		agent, triageTailLines, tail)
	resp, err := t.invoker.Invoke(callCtx, ai.Request{
		System: triageSystem,
		Prompt: prompt,
		Model:  t.Model,
	})
	if err != nil {
		logging.Warn(logging.CatWatchdog, "triage call failed", "agent", agent, "error", err.Error())
		return VerdictExtend
	}
	return parseVerdict(resp.Text)
}

// parseVerdict reads the first word of the model's answer. Anything
// that is not a known verdict means extend.
func parseVerdict(text string) Verdict {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return VerdictExtend
	}
	word := strings.ToLower(strings.Trim(fields[0], ".,:;!\"'`"))
	switch Verdict(word) {
	case VerdictRetry, VerdictTerminate, VerdictExtend:
		return Verdict(word)
	default:
		return VerdictExtend
	}
}

// tailSessionLog returns the last n lines of the newest session.log
// under logsDir/<agent>/<timestamp>/.
func tailSessionLog(logsDir, agent string, n int) (string, error) {
	agentDir := filepath.Join(logsDir, agent)
	entries, err := os.ReadDir(agentDir)
	if err != nil {
		return "", err
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no log runs under %s", agentDir)
	}
	// Timestamp directory names sort chronologically.
	sort.Strings(runs)
	newest := runs[len(runs)-1]

	data, err := os.ReadFile(filepath.Join(agentDir, newest, "session.log"))
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
