package separation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewServiceWithOptions(t *testing.T) {
	svc := NewService(WithBinary("/opt/demucs"), WithDevice("cuda:1"))
	if svc.binary != "/opt/demucs" {
		t.Fatalf("expected binary override to be applied, got %q", svc.binary)
	}
	if svc.device != "cuda:1" {
		t.Fatalf("expected device override to be applied, got %q", svc.device)
	}
}

func TestSeparateRequiresInput(t *testing.T) {
	svc := NewService()
	if _, err := svc.Separate(context.Background(), "", t.TempDir(), "", nil); err == nil {
		t.Fatal("expected error when input path is empty")
	}
}

func TestSeparateRequiresOutputDir(t *testing.T) {
	svc := NewService()
	if _, err := svc.Separate(context.Background(), "/music/song.mp3", "", "", nil); err == nil {
		t.Fatal("expected error when output directory is empty")
	}
}

func TestSeparateBuildsArgs(t *testing.T) {
	capturedArgs := setHelperCommand(t, "success")

	svc := NewService(WithDevice("cuda"))
	tempDir := t.TempDir()
	input := filepath.Join(tempDir, "song.mp3")
	outDir := filepath.Join(tempDir, "stems")

	if _, err := svc.Separate(context.Background(), input, outDir, "mdx_extra", nil); err != nil {
		t.Fatalf("Separate returned error: %v", err)
	}

	args := *capturedArgs
	if len(args) == 0 {
		t.Fatal("expected demucs command arguments to be captured")
	}
	if idx := findArg(args, "-n"); idx == -1 || args[idx+1] != "mdx_extra" {
		t.Fatalf("expected -n mdx_extra, got %v", args)
	}
	if findArg(args, "--two-stems=vocals") == -1 {
		t.Fatalf("expected --two-stems=vocals, got %v", args)
	}
	if findArg(args, "--mp3") == -1 {
		t.Fatalf("expected --mp3, got %v", args)
	}
	if idx := findArg(args, "-d"); idx == -1 || args[idx+1] != "cuda" {
		t.Fatalf("expected -d cuda, got %v", args)
	}
	if idx := findArg(args, "-o"); idx == -1 || args[idx+1] != outDir {
		t.Fatalf("expected -o %s, got %v", outDir, args)
	}
	if args[len(args)-1] != input {
		t.Fatalf("expected input as final argument, got %v", args)
	}
}

func TestSeparateStreamsFoldedProgress(t *testing.T) {
	setHelperCommand(t, "success")

	svc := NewService()
	tempDir := t.TempDir()
	input := filepath.Join(tempDir, "song.mp3")
	outDir := filepath.Join(tempDir, "stems")

	var percents []float64
	result, err := svc.Separate(context.Background(), input, outDir, "htdemucs", func(percent float64, message string) {
		percents = append(percents, percent)
		if message == "" {
			t.Error("expected a progress message")
		}
	})
	if err != nil {
		t.Fatalf("Separate returned error: %v", err)
	}

	wantVocals := filepath.Join(outDir, "htdemucs", "song", VocalsArtifact)
	if result.VocalsPath != wantVocals {
		t.Fatalf("expected vocals at %q, got %q", wantVocals, result.VocalsPath)
	}
	if len(percents) < 3 {
		t.Fatalf("expected at least 3 progress samples, got %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("expected non-decreasing progress, got %v", percents)
		}
	}
	final := percents[len(percents)-1]
	if final != maxToolPercent {
		t.Fatalf("expected the finished bar to fold to %v, got %v", maxToolPercent, final)
	}
}

func TestSeparateFoldsEnsembleRestarts(t *testing.T) {
	setHelperCommand(t, "ensemble")

	svc := NewService()
	tempDir := t.TempDir()
	input := filepath.Join(tempDir, "song.mp3")
	outDir := filepath.Join(tempDir, "stems")

	var percents []float64
	if _, err := svc.Separate(context.Background(), input, outDir, "htdemucs_ft", func(percent float64, _ string) {
		percents = append(percents, percent)
	}); err != nil {
		t.Fatalf("Separate returned error: %v", err)
	}

	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("expected restarted bars to keep progress non-decreasing, got %v", percents)
		}
	}
	// The second model's halfway mark lands past the first model's share.
	found := false
	for _, p := range percents {
		if p == 75 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 75 sample from the second model's bar, got %v", percents)
	}
}

func TestSeparateReportsToolFailure(t *testing.T) {
	setHelperCommand(t, "failure")

	svc := NewService()
	tempDir := t.TempDir()
	input := filepath.Join(tempDir, "song.mp3")

	_, err := svc.Separate(context.Background(), input, filepath.Join(tempDir, "stems"), "", nil)
	if err == nil {
		t.Fatal("expected separation failure error")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected error to carry the tool's output tail, got %v", err)
	}
}

func TestSeparateErrorsWhenStemsMissing(t *testing.T) {
	setHelperCommand(t, "silent")

	svc := NewService()
	tempDir := t.TempDir()
	input := filepath.Join(tempDir, "song.mp3")

	_, err := svc.Separate(context.Background(), input, filepath.Join(tempDir, "stems"), "", nil)
	if err == nil {
		t.Fatal("expected error when demucs exits clean without stems")
	}
	if !strings.Contains(err.Error(), "was not produced") {
		t.Fatalf("expected missing-stem error, got %v", err)
	}
}

// setHelperCommand reroutes demucs launches to the helper process and returns
// a pointer that captures the most recent argument list.
func setHelperCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	captured := &[]string{}
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("DEMUCS_HELPER_MODE=%s", mode),
			fmt.Sprintf("DEMUCS_HELPER_TRACKDIR=%s", trackDirFromArgs(args)),
		)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return captured
}

func trackDirFromArgs(args []string) string {
	variant := ""
	outDir := ""
	for i, arg := range args {
		if i+1 >= len(args) {
			break
		}
		switch arg {
		case "-n":
			variant = args[i+1]
		case "-o":
			outDir = args[i+1]
		}
	}
	if variant == "" || outDir == "" || len(args) == 0 {
		return ""
	}
	return filepath.Join(outDir, variant, inputStem(args[len(args)-1]))
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	writeStems := func() {
		trackDir := os.Getenv("DEMUCS_HELPER_TRACKDIR")
		if trackDir == "" {
			fmt.Fprintln(os.Stderr, "missing track dir")
			os.Exit(1)
		}
		if err := os.MkdirAll(trackDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, name := range []string{VocalsArtifact, InstrumentalArtifact} {
			if err := os.WriteFile(filepath.Join(trackDir, name), []byte("stem"), 0o644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
	}

	switch os.Getenv("DEMUCS_HELPER_MODE") {
	case "success":
		fmt.Print("Separating track song.mp3\n")
		fmt.Print("  0%|          | 0.0/230.4 [00:00<?, ?seconds/s]\r")
		fmt.Print(" 54%|#####     | 124.4/230.4 [00:05<00:05, 21.2seconds/s]\r")
		fmt.Print("100%|##########| 230.4/230.4 [00:10<00:00, 21.3seconds/s]\n")
		writeStems()
		os.Exit(0)
	case "ensemble":
		fmt.Print("Selected model is a bag of 2 models. You will see that many progress bars per track.\n")
		fmt.Print("  0%|          | 0.0/230.4 [00:00<?, ?seconds/s]\r")
		fmt.Print(" 50%|#####     | 115.2/230.4 [00:05<00:05, 21.2seconds/s]\r")
		fmt.Print("100%|##########| 230.4/230.4 [00:10<00:00, 21.3seconds/s]\n")
		fmt.Print("  0%|          | 0.0/230.4 [00:00<?, ?seconds/s]\r")
		fmt.Print(" 50%|#####     | 115.2/230.4 [00:15<00:05, 21.2seconds/s]\r")
		fmt.Print("100%|##########| 230.4/230.4 [00:20<00:00, 21.3seconds/s]\n")
		writeStems()
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "torch.cuda.OutOfMemoryError: CUDA out of memory. Tried to allocate 2.50 GiB")
		os.Exit(1)
	case "silent":
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}
