package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// #region helpers

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a small-campaign config rooted in dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := "seed: 7\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n" +
		"db_path: " + filepath.Join(dir, "data", "lab.db") + "\n" +
		"campaign:\n  campaign: screen\n  budget: 160\n  max_cycles: 8\n  expand_wells: 32\n"
	path := filepath.Join(dir, "lab.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func noEnv(dir string) string {
	return filepath.Join(dir, "absent.env")
}

// #endregion helpers

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "labsim ") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigCmdJSON(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "config", "--json", "--config", writeConfig(t, dir), "--env-file", noEnv(dir))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got["Seed"] != float64(7) {
		t.Fatalf("Seed = %v", got["Seed"])
	}
}

func TestRunWritesObservationAndTable(t *testing.T) {
	dir := t.TempDir()
	prop := filepath.Join(dir, "plate.yaml")
	var b strings.Builder
	b.WriteString("budget: 96\nwells:\n")
	for i := 0; i < 8; i++ {
		compound, dose := "DMSO", "0"
		if i >= 4 {
			compound, dose = "rotenone", "1"
		}
		b.WriteString("  - {cell_line: A549, compound: " + compound + ", dose_um: " + dose +
			", exposure_hours: 24, assay: cell_painting, position: {plate: P1, row: " +
			string(rune('0'+i%8)) + ", col: " + string(rune('0'+i)) + "}}\n")
	}
	if err := os.WriteFile(prop, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write proposal: %v", err)
	}
	table := filepath.Join(dir, "r1.tsv")

	out, err := runCLI(t, "run", prop, "--run-id", "r1", "--table", table, "--env-file", noEnv(dir))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var resp struct {
		RunID       string `json:"run_id"`
		Digest      string `json:"digest"`
		FloorSource string `json:"floor_source"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if resp.RunID != "r1" || resp.Digest == "" || resp.FloorSource != "controls" {
		t.Fatalf("response = %+v", resp)
	}
	data, err := os.ReadFile(table)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 9 {
		t.Fatalf("expected header plus 8 rows, got %d lines", len(lines))
	}
}

func TestRunRequiresRunID(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "run", filepath.Join(dir, "p.yaml"), "--env-file", noEnv(dir)); err == nil {
		t.Fatal("expected error without --run-id")
	}
}

func TestCampaignVerifyInspectExport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	common := []string{"--config", cfg, "--env-file", noEnv(dir)}

	out, err := runCLI(t, append([]string{"campaign", "--verify", "--json"}, common...)...)
	if err != nil {
		t.Fatalf("campaign: %v\n%s", err, out)
	}
	var camp struct {
		LogDir  string `json:"log_dir"`
		Summary struct {
			CampaignID string `json:"campaign_id"`
			Cycles     []struct {
				RunID string `json:"run_id"`
			} `json:"cycles"`
		} `json:"summary"`
		Verdict struct {
			Pass bool `json:"pass"`
		} `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(out), &camp); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	if !camp.Verdict.Pass || camp.Summary.CampaignID == "" {
		t.Fatalf("campaign output = %+v", camp)
	}

	if _, err := runCLI(t, append([]string{"campaign"}, common...)...); err == nil {
		t.Fatal("second campaign without --force should refuse to append to existing logs")
	}

	out, err = runCLI(t, append([]string{"verify", camp.LogDir, "--narrative"}, common...)...)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "audit: PASS") || !strings.Contains(out, "cycle 0: CALIBRATE") {
		t.Fatalf("verify output:\n%s", out)
	}

	out, err = runCLI(t, append([]string{"inspect", camp.Summary.CampaignID, "--json"}, common...)...)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var detail campaignDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("decode inspect: %v", err)
	}
	if len(detail.Runs) == 0 || detail.Active == "" {
		t.Fatalf("inspect detail = %+v", detail)
	}

	exported := filepath.Join(dir, "c0.tsv")
	if _, err := runCLI(t, append([]string{"export", detail.Runs[0].RunID, "--out", exported}, common...)...); err != nil {
		t.Fatalf("export: %v", err)
	}
	if info, err := os.Stat(exported); err != nil || info.Size() == 0 {
		t.Fatalf("exported table missing: %v", err)
	}
}

func TestVerifyRequiresOneSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "verify", "--env-file", noEnv(dir)); err == nil {
		t.Fatal("expected error with no log source")
	}
}

func TestVerifyFlagsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	// a reward for a receipt that was never issued
	line := `{"seq":1,"run_id":"x","cycle":0,"kind":"reward","payload":{"cycle":0,"receipt_id":"missing","kind":"correct","amount":1}}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, err := runCLI(t, "verify", "--file", path, "--env-file", noEnv(dir))
	if err == nil {
		t.Fatalf("expected audit failure, output:\n%s", out)
	}
	if !strings.Contains(out, "audit: FAIL") {
		t.Fatalf("verify output:\n%s", out)
	}
}

func TestInspectMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LAB_DB_PATH", filepath.Join(dir, "nope.db"))
	if _, err := runCLI(t, "inspect", "--env-file", noEnv(dir)); err == nil {
		t.Fatal("expected error for missing database")
	}
	if _, err := os.Stat(filepath.Join(dir, "nope.db")); !os.IsNotExist(err) {
		t.Fatal("inspect must not create a database")
	}
}

func TestPrepareLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := prepareLogDir(dir, false); err != nil {
		t.Fatalf("missing dir: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cycles.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := prepareLogDir(dir, false); err == nil {
		t.Fatal("expected refusal for existing logs")
	}
	if err := prepareLogDir(dir, true); err != nil {
		t.Fatalf("force: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("force should clear the directory")
	}
}
