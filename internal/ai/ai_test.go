package ai

import (
	"context"
	"reflect"
	"testing"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/exec"
)

// fakeRunner records the last Capture call and returns a canned result.
type fakeRunner struct {
	lastName string
	lastArgs []string
	result   exec.Result
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return nil, nil
}

func (f *fakeRunner) Capture(ctx context.Context, workDir, name string, args ...string) (exec.Result, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func (f *fakeRunner) Exists(ctx context.Context, workDir, path string) bool {
	return false
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "prompt only",
			req:  Request{Prompt: "hello"},
			want: []string{"--print", "--output-format", "text", "-p", "hello"},
		},
		{
			name: "with model",
			req:  Request{Prompt: "hello", Model: "claude-sonnet-4-20250514"},
			want: []string{"--print", "--output-format", "text", "--model", "claude-sonnet-4-20250514", "-p", "hello"},
		},
		{
			name: "system folded into prompt",
			req:  Request{System: "be terse", Prompt: "hello"},
			want: []string{"--print", "--output-format", "text", "-p", "be terse\n\nhello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildArgs(tt.req)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCLIInvoker_Invoke(t *testing.T) {
	t.Run("returns stdout verbatim", func(t *testing.T) {
		runner := &fakeRunner{result: exec.Result{Stdout: "line one\nline two\n"}}
		inv := NewCLIInvokerWith("", runner)

		resp, err := inv.Invoke(context.Background(), Request{Prompt: "p"})
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if resp.Text != "line one\nline two\n" {
			t.Errorf("Text = %q, want trailing newline preserved", resp.Text)
		}
		if runner.lastName != DefaultCommand {
			t.Errorf("command = %q, want %q", runner.lastName, DefaultCommand)
		}
	})

	t.Run("non-zero exit is an agent error", func(t *testing.T) {
		runner := &fakeRunner{result: exec.Result{ExitCode: 1, Stderr: "boom\nextra"}}
		inv := NewCLIInvokerWith("claude", runner)

		_, err := inv.Invoke(context.Background(), Request{Prompt: "p"})
		if !errs.HasKind(err, errs.KindAgent) {
			t.Fatalf("expected AgentError, got %v", err)
		}
	})

	t.Run("custom command name", func(t *testing.T) {
		runner := &fakeRunner{result: exec.Result{Stdout: "ok"}}
		inv := NewCLIInvokerWith("my-agent", runner)

		if _, err := inv.Invoke(context.Background(), Request{Prompt: "p"}); err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if runner.lastName != "my-agent" {
			t.Errorf("command = %q, want my-agent", runner.lastName)
		}
	})
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"one line", "one line"},
		{"first\nsecond", "first"},
		{"  padded  \nrest", "padded"},
	}

	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_ModeSelection(t *testing.T) {
	t.Setenv("OVERSTORY_USE_API", "")

	t.Run("defaults to cli", func(t *testing.T) {
		inv, err := New(Options{})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := inv.(*CLIInvoker); !ok {
			t.Errorf("New() = %T, want *CLIInvoker", inv)
		}
	})

	t.Run("env opt-in selects api", func(t *testing.T) {
		t.Setenv("OVERSTORY_USE_API", "1")
		t.Setenv("ANTHROPIC_API_KEY", "test-key")

		inv, err := New(Options{})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := inv.(*APIInvoker); !ok {
			t.Errorf("New() = %T, want *APIInvoker", inv)
		}
	})

	t.Run("unknown mode is a config error", func(t *testing.T) {
		_, err := New(Options{Mode: "telepathy"})
		if !errs.HasKind(err, errs.KindConfig) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})
}

func TestNewAPIInvoker(t *testing.T) {
	t.Run("requires a key without gateway or bedrock", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("API_BASE_URL", "")

		_, err := NewAPIInvoker(APIConfig{})
		if !errs.HasKind(err, errs.KindConfig) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})

	t.Run("gateway base url needs no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		inv, err := NewAPIInvoker(APIConfig{BaseURL: "https://gateway.internal", AuthToken: "tok"})
		if err != nil {
			t.Fatalf("NewAPIInvoker() error = %v", err)
		}
		if inv == nil {
			t.Fatal("NewAPIInvoker() returned nil invoker")
		}
	})

	t.Run("model falls back to DEFAULT_MODEL", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "test-key")
		t.Setenv("DEFAULT_MODEL", "claude-haiku-4-5-20251001")

		inv, err := NewAPIInvoker(APIConfig{})
		if err != nil {
			t.Fatalf("NewAPIInvoker() error = %v", err)
		}
		if string(inv.model) != "claude-haiku-4-5-20251001" {
			t.Errorf("model = %q, want DEFAULT_MODEL value", inv.model)
		}
	})
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock("claude-sonnet-4-20250514")
	if string(got) != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("translateModelForBedrock() = %q, want inference profile", got)
	}

	passthrough := translateModelForBedrock("us.anthropic.custom-model-v1:0")
	if string(passthrough) != "us.anthropic.custom-model-v1:0" {
		t.Errorf("unknown model should pass through, got %q", passthrough)
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()

	tracker.Add(100, 50)
	tracker.Add(200, 25)

	in, out := tracker.Total()
	if in != 300 || out != 75 {
		t.Errorf("Total() = (%d, %d), want (300, 75)", in, out)
	}
	if tracker.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", tracker.Calls())
	}
	if tracker.Cost() <= 0 {
		t.Errorf("Cost() = %f, want positive", tracker.Cost())
	}

	tracker.Reset()
	in, out = tracker.Total()
	if in != 0 || out != 0 || tracker.Calls() != 0 {
		t.Errorf("after Reset: in=%d out=%d calls=%d, want zeros", in, out, tracker.Calls())
	}
}
