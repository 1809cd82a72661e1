package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/condwave/pkg/cli"
	"github.com/haivivi/condwave/pkg/features"
	"github.com/haivivi/condwave/pkg/tensor"
)

const testRequest = `
roll: {low_pitch: 60, high_pitch: 71}
sequences:
  - name: first
    frames: 6
    notes:
      - {pitch: 60, velocity: 100, start: 0, end: 3}
      - {pitch: 67, velocity: 90, start: 3, end: 6}
    target: [0.1, 0.2, 0.3, 0.2, 0.1, 0.0]
  - name: second
    frames: 4
    notes:
      - {pitch: 64, velocity: 70, start: 0, end: 4}
    target: [0.5, 0.4, 0.3, 0.2]
`

// setupTestEnv points HOME and the config at a temp dir holding a small
// model, and returns the path of a request file.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	config := `
model:
  use_vae: true
  bottleneck: {seed: 5}
  wavenet:
    {n_in_channels: 1, n_out_channels: 1, n_cond_channels: 4, n_residual_channels: 4, n_skip_channels: 4, n_layers: 2, max_dilation: 2}
  cond_wavenet:
    {n_in_channels: 12, n_out_channels: 4, n_cond_channels: 1, n_residual_channels: 4, n_skip_channels: 4, n_layers: 2, max_dilation: 2, seed: 3}
store:
  dir: ` + filepath.Join(dir, "blobs") + `
  index: ` + filepath.Join(dir, "index") + `
`
	cfgPath := writeTestFile(t, dir, "config.yaml", config)
	t.Setenv("CONDWAVE_TEST_CONFIG", cfgPath)
	return writeTestFile(t, dir, "request.yaml", testRequest)
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout, oldStderr := os.Stdout, os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout, os.Stderr = wOut, wErr

	var outBuf, errBuf bytes.Buffer
	done := make(chan struct{})
	go func() {
		outBuf.ReadFrom(rOut)
		done <- struct{}{}
	}()
	go func() {
		errBuf.ReadFrom(rErr)
		done <- struct{}{}
	}()

	rootCmd.SetArgs(append([]string{"--config", os.Getenv("CONDWAVE_TEST_CONFIG")}, args...))
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	<-done
	<-done
	os.Stdout, os.Stderr = oldStdout, oldStderr

	stdout, stderr = outBuf.String(), errBuf.String()
	if err != nil {
		exitCode = 1
		stderr += err.Error()
	}
	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestForward(t *testing.T) {
	req := setupTestEnv(t)
	stdout, stderr, code := runCmd(t, "forward", "-f", req, "--json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var res forwardResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !slices.Equal(res.Shape, []int{2, 1, 6}) {
		t.Errorf("shape %v", res.Shape)
	}
	if len(res.Usage) != 4 {
		t.Errorf("usage %v", res.Usage)
	}
	if len(res.Codes) != 2 || len(res.Codes[0]) != 6 || len(res.Codes[1]) != 4 {
		t.Errorf("codes %v", res.Codes)
	}

	// Recompute the error by hand over the 6 + 4 real frames only.
	cfg, err := cli.LoadConfig(os.Getenv("CONDWAVE_TEST_CONFIG"))
	if err != nil {
		t.Fatal(err)
	}
	m, err := cfg.Model.Build(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	var r features.Request
	if err := cli.LoadRequest(req, &r); err != nil {
		t.Fatal(err)
	}
	aux, _ := r.Aux()
	target, _ := r.Target()
	fwd, err := m.Forward(aux, target, true)
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	var n int
	for b, s := range r.Sequences {
		for i := range s.Frames {
			d := fwd.Prediction.At(b, 0, i) - s.Target[i]
			sum += d * d
			n++
		}
	}
	if n != 10 {
		t.Fatalf("counted %d frames", n)
	}
	want := sum / float64(n)
	if res.MSE == nil || math.Abs(*res.MSE-want) > 1e-9 {
		t.Errorf("mse = %v, want %v", res.MSE, want)
	}
}

func TestForwardBypass(t *testing.T) {
	req := setupTestEnv(t)
	stdout, stderr, code := runCmd(t, "forward", "-f", req, "--no-vae", "--json", "--query", ".usage")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var usage []float64
	if err := json.Unmarshal([]byte(stdout), &usage); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !slices.Equal(usage, []float64{0}) {
		t.Errorf("bypassed usage = %v", usage)
	}
}

func TestForwardNeedsTarget(t *testing.T) {
	setupTestEnv(t)
	req := writeTestFile(t, t.TempDir(), "req.yaml", "sequences:\n  - {frames: 3, notes: []}\n")
	_, stderr, code := runCmd(t, "forward", "-f", req)
	if code == 0 {
		t.Fatal("forward ran without targets")
	}
	if !strings.Contains(stderr, "target") {
		t.Errorf("stderr = %s", stderr)
	}

	if _, _, code := runCmd(t, "forward"); code == 0 {
		t.Error("forward ran without a request file")
	}
}

func TestInfer(t *testing.T) {
	req := setupTestEnv(t)
	var outputs []string
	for range 2 {
		stdout, stderr, code := runCmd(t, "infer", "-f", req, "--json", "--temperature", "0.3", "--seed", "9", "--query", ".sequences")
		if code != 0 {
			t.Fatalf("exit %d: %s", code, stderr)
		}
		outputs = append(outputs, stdout)
	}
	var seqs []generated
	if err := json.Unmarshal([]byte(outputs[0]), &seqs); err != nil {
		t.Fatalf("decode %q: %v", outputs[0], err)
	}
	if len(seqs) != 2 || seqs[0].Name != "first" || len(seqs[0].Values) != 6 || len(seqs[1].Values) != 4 {
		t.Errorf("sequences = %+v", seqs)
	}
	if outputs[0] != outputs[1] {
		t.Error("same seed gave different sequences")
	}
}

func TestUsageChart(t *testing.T) {
	req := setupTestEnv(t)
	stdout, stderr, code := runCmd(t, "usage", "-f", req)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "code usage over 2 sequences") || !strings.Contains(stdout, "perplexity") {
		t.Errorf("chart = %s", stdout)
	}

	stdout, _, code = runCmd(t, "usage", "-f", req, "--json")
	if code != 0 || !strings.Contains(stdout, `"perplexity"`) {
		t.Errorf("json usage = %s", stdout)
	}
}

func TestExportAndCheckpoints(t *testing.T) {
	req := setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "export", "--name", "base", "--json")
	if code != 0 {
		t.Fatalf("export: exit %d: %s", code, stderr)
	}
	var meta struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(stdout), &meta); err != nil || meta.Name != "base" {
		t.Fatalf("export output %q: %v", stdout, err)
	}

	if _, stderr, code := runCmd(t, "export"); code == 0 || !strings.Contains(stderr, "--name") {
		t.Errorf("export without name: %d %s", code, stderr)
	}

	stdout, _, code = runCmd(t, "checkpoint", "list")
	if code != 0 || !strings.Contains(stdout, meta.ID[:8]) || !strings.Contains(stdout, "base") {
		t.Errorf("list = %s", stdout)
	}

	stdout, _, code = runCmd(t, "checkpoint", "show", "base", "--json", "--query", ".id")
	if code != 0 || strings.TrimSpace(stdout) != `"`+meta.ID+`"` {
		t.Errorf("show = %s", stdout)
	}

	plain, _, _ := runCmd(t, "infer", "-f", req, "--json", "--query", ".sequences")
	restored, stderr, code := runCmd(t, "infer", "-f", req, "--json", "--query", ".sequences", "--checkpoint", meta.ID[:8])
	if code != 0 {
		t.Fatalf("infer from checkpoint: %s", stderr)
	}
	if plain != restored {
		t.Error("checkpoint of the configured model generates differently")
	}

	if _, stderr, code := runCmd(t, "checkpoint", "delete", "base"); code != 0 {
		t.Fatalf("delete: %s", stderr)
	}
	if _, _, code := runCmd(t, "checkpoint", "show", "base"); code == 0 {
		t.Error("deleted checkpoint still shown")
	}
}

func TestConfigCommands(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "config", "show", "--json", "--query", ".model.use_vae")
	if code != 0 || strings.TrimSpace(stdout) != "true" {
		t.Errorf("show = %q", stdout)
	}

	stdout, _, code = runCmd(t, "config", "schema")
	if code != 0 || !strings.Contains(stdout, `"use_vae"`) || !strings.Contains(stdout, `"cond_wavenet"`) {
		t.Errorf("schema = %s", stdout)
	}

	if _, stderr, code := runCmd(t, "config", "init"); code == 0 || !strings.Contains(stderr, "exists") {
		t.Errorf("init over existing file: %d %s", code, stderr)
	}
}

func TestArgmaxCodes(t *testing.T) {
	// [1, 3, 2]: frame 0 picks code 2, frame 1 picks code 0.
	codes := argmaxCodes([]float64{0, 1, 0, 0, 1, 0}, []int{1, 3, 2})
	if !slices.Equal(codes[0], []int{2, 0}) {
		t.Errorf("codes = %v", codes)
	}
}

func TestMeanSquaredError(t *testing.T) {
	// Targets of 2 and 4 frames, batched with zero padding.
	target, err := features.Batch(
		tensor.FromSlice([]float64{1, 1}, 1, 1, 2),
		tensor.FromSlice([]float64{1, 1, 1, 1}, 1, 1, 4),
	)
	if err != nil {
		t.Fatal(err)
	}
	pred := tensor.Full(1, 2, 1, 4)
	if got, ok := meanSquaredError(pred, target, []int{2, 4}); !ok || got != 0 {
		t.Errorf("padding counted: mse = %v, %v", got, ok)
	}

	pred.Set(3, 1, 0, 3)
	if got, _ := meanSquaredError(pred, target, []int{2, 4}); got != 4.0/6 {
		t.Errorf("mse = %v, want %v", got, 4.0/6)
	}

	logits := tensor.New(2, 8, 4)
	if _, ok := meanSquaredError(logits, target, []int{2, 4}); ok {
		t.Error("level logits compared against target values")
	}
}
