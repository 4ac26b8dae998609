package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jilei-hao/lumify-dicom-parser/pkg/recording/recordingtest"
)

func cine(anchor string) recordingtest.Entry {
	return recordingtest.Entry{Recording: recordingtest.Cine(anchor, []float64{0, 40}, 2, 2)}
}

func execute(t *testing.T, opts *options, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	cmd := newCommand(opts)
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand_PrintsVersion(t *testing.T) {
	out, _, err := execute(t, &options{}, "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("expected output to include version, got %q", out)
	}
}

func TestRootCommand_RequiresTwoArgs(t *testing.T) {
	if _, _, err := execute(t, &options{}, "only-subject"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestRootCommand_ExportsSubject(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "a.dcm")
	writeFile(t, subjectDir, "sub/b.dcm")
	writeFile(t, subjectDir, "notes.txt")
	root := filepath.Join(t.TempDir(), "out")

	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": cine("20230101120005.000000"),
		"b.dcm": cine("20230101120001.000000"),
	})

	out, stderr, err := execute(t, &options{decoder: dec}, subjectDir, root)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}

	final := filepath.Join(root, "20230101120001000")
	if want := filepath.Join(subjectDir, "a.dcm") + " -> " + filepath.Join(final, "20230101120005000"); lines[0] != want {
		t.Fatalf("unexpected line: %q, want %q", lines[0], want)
	}
	if want := filepath.Join(subjectDir, "sub", "b.dcm") + " -> " + filepath.Join(final, "20230101120001000"); lines[1] != want {
		t.Fatalf("unexpected line: %q, want %q", lines[1], want)
	}
	if lines[2] != "subject: "+final {
		t.Fatalf("unexpected line: %q", lines[2])
	}

	frame := filepath.Join(final, "20230101120005000", "20230101120005040.json")
	if _, err := os.Stat(frame); err != nil {
		t.Fatalf("expected frame artifact: %v", err)
	}

	if !strings.Contains(stderr, "run=") {
		t.Fatalf("expected log lines to carry a run id, got %q", stderr)
	}
}

func TestRootCommand_ReportsFailedLoops(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "a.dcm")
	writeFile(t, subjectDir, "b.dcm")

	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": cine("20230101120000.000000"),
		"b.dcm": {Err: errors.New("truncated file")},
	})

	out, _, err := execute(t, &options{decoder: dec}, subjectDir, t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, filepath.Join(subjectDir, "b.dcm")+": failed: ") || !strings.Contains(out, "truncated file") {
		t.Fatalf("expected failure line for b.dcm, got %q", out)
	}
	if !strings.Contains(out, "subject: ") {
		t.Fatalf("expected subject line, got %q", out)
	}
}

func TestRootCommand_AllLoopsFailedIsAnError(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "a.dcm")

	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": {Err: errors.New("not DICOM")},
	})

	out, _, err := execute(t, &options{decoder: dec}, subjectDir, t.TempDir())
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if strings.Contains(out, "subject: ") {
		t.Fatalf("did not expect a subject line, got %q", out)
	}
}

func TestRootCommand_NoRecordingsIsNotAnError(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "notes.txt")
	root := filepath.Join(t.TempDir(), "out")

	out, stderr, err := execute(t, &options{decoder: recordingtest.NewDecoder(nil)}, subjectDir, root)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.TrimSpace(out) != "" {
		t.Fatalf("expected no output, got %q", out)
	}
	if !strings.Contains(stderr, "no recordings") {
		t.Fatalf("expected a warning, got %q", stderr)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected output root to stay absent, got %v", err)
	}
}

func TestRootCommand_DryRun(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "a.dcm")
	root := filepath.Join(t.TempDir(), "out")

	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": cine("20230101120000.000000"),
	})

	out, _, err := execute(t, &options{decoder: dec}, "--dry-run", subjectDir, root)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "subject: "+filepath.Join(root, "20230101120000000")) {
		t.Fatalf("expected would-be subject dir, got %q", out)
	}
	if !strings.Contains(out, "Dry run mode") {
		t.Fatalf("expected dry run notice, got %q", out)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected nothing written, got %v", err)
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("workers: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, err := execute(t, &options{decoder: recordingtest.NewDecoder(nil)}, "--config", cfgPath, dir, t.TempDir())
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "workers: 2\nframe_workers: 4\nfile_timeout: 30s\nextensions: [.dcm, .dicom]\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts := &options{}
	cmd := newCommand(opts)
	if err := cmd.ParseFlags([]string{"--config", cfgPath, "--workers", "3", "--frame-timeout", "2s"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("workers = %d, want 3 from flag", cfg.Workers)
	}
	if cfg.FrameWorkers != 4 {
		t.Errorf("frame_workers = %d, want 4 from file", cfg.FrameWorkers)
	}
	if cfg.FileTimeout.Std() != 30*time.Second {
		t.Errorf("file_timeout = %v, want 30s from file", cfg.FileTimeout.Std())
	}
	if cfg.FrameTimeout.Std() != 2*time.Second {
		t.Errorf("frame_timeout = %v, want 2s from flag", cfg.FrameTimeout.Std())
	}
	if len(cfg.Extensions) != 2 {
		t.Errorf("extensions = %v, want two from file", cfg.Extensions)
	}
	if cfg.MaxDepth != -1 {
		t.Errorf("max_depth = %d, want default -1", cfg.MaxDepth)
	}
}

func TestScanCommand_RequiresOneArg(t *testing.T) {
	if _, _, err := execute(t, &options{}, "scan"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestScanCommand_PrintsRecordings(t *testing.T) {
	tmp := t.TempDir()

	writeFile(t, tmp, "a.dcm")
	writeFile(t, tmp, "b.txt")
	writeFile(t, tmp, "sub/c.dcm")

	out, _, err := execute(t, &options{}, "scan", tmp, "--max-depth", "0")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.TrimSpace(out) != "a.dcm" {
		t.Fatalf("expected only top-level recording, got %q", out)
	}
}

func TestScanCommand_JSONOutput(t *testing.T) {
	tmp := t.TempDir()

	writeFile(t, tmp, "a.DCM")
	writeFile(t, tmp, "b.txt")
	writeFile(t, tmp, "sub/c.dcm")

	out, _, err := execute(t, &options{}, "scan", tmp, "--json")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var records []struct {
		Path          string    `json:"path"`
		FileSizeBytes int64     `json:"file_size_bytes"`
		ModTime       time.Time `json:"mod_time"`
	}
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Path != "a.DCM" || records[1].Path != "sub/c.dcm" {
		t.Fatalf("unexpected paths: %+v", records)
	}
	if records[0].FileSizeBytes <= 0 {
		t.Fatalf("expected file_size_bytes > 0")
	}
	if records[0].ModTime.IsZero() {
		t.Fatalf("expected mod_time to be set")
	}
}

func TestScanCommand_UsesConfigExtensions(t *testing.T) {
	tmp := t.TempDir()

	writeFile(t, tmp, "a.dcm")
	writeFile(t, tmp, "b.dicom")
	writeFile(t, tmp, "sub/c.dicom")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("extensions: [.dicom]\nmax_depth: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := execute(t, &options{}, "scan", tmp, "--config", cfgPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.TrimSpace(out) != "b.dicom" {
		t.Fatalf("expected only b.dicom, got %q", out)
	}

	out, _, err = execute(t, &options{}, "scan", tmp, "--config", cfgPath, "--max-depth", "-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := strings.Fields(out); len(got) != 2 || got[0] != "b.dicom" || got[1] != "sub/c.dicom" {
		t.Fatalf("expected flag to override config depth, got %q", out)
	}
}

func TestRootCommand_CancelledRunIsAnError(t *testing.T) {
	subjectDir := t.TempDir()
	writeFile(t, subjectDir, "a.dcm")
	writeFile(t, subjectDir, "z.dcm")
	root := t.TempDir()

	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": cine("20230101120000.000000"),
		"z.dcm": {Recording: recordingtest.Cine("20230101110000.000000", []float64{0}, 1, 1), Delay: 5 * time.Second},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := newCommand(&options{decoder: dec})
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{subjectDir, root})

	if err := cmd.ExecuteContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if strings.Contains(out.String(), "subject: ") {
		t.Fatalf("cancelled run must not report a subject, got %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(root, "20230101120000000")); !os.IsNotExist(err) {
		t.Fatalf("expected no final subject dir, got %v", err)
	}
}

func TestStampsCommand_PrintsFrameTimestamps(t *testing.T) {
	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": {Recording: recordingtest.Cine("20230101120000.000000", []float64{0, 1000, 500}, 1, 1)},
	})

	out, _, err := execute(t, &options{decoder: dec}, "stamps", "a.dcm")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "20230101120000000\n20230101120001000\n20230101120001500\n"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestStampsCommand_JSONOutput(t *testing.T) {
	dec := recordingtest.NewDecoder(map[string]recordingtest.Entry{
		"a.dcm": {Recording: recordingtest.Cine("20230101120000.000000", []float64{0, 40}, 3, 4)},
	})

	out, _, err := execute(t, &options{decoder: dec}, "stamps", "a.dcm", "--json")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var got stampsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if got.Frames != 2 || got.Rows != 3 || got.Columns != 4 {
		t.Fatalf("unexpected output: %+v", got)
	}
	if got.AnchorStamp != "20230101120000000" {
		t.Fatalf("unexpected anchor stamp: %q", got.AnchorStamp)
	}
	if got.TimeStamps[1] != "20230101120000040" {
		t.Fatalf("unexpected stamps: %v", got.TimeStamps)
	}
}

func TestStampsCommand_DecodeError(t *testing.T) {
	if _, _, err := execute(t, &options{decoder: recordingtest.NewDecoder(nil)}, "stamps", "missing.dcm"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func writeFile(t *testing.T, dir string, relPath string) {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(relPath), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
