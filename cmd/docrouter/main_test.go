package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// testEnv isolates a CLI run: no API key, no config file, a temp database.
type testEnv struct {
	dir  string
	base []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, k := range []string{
		"NVIDIA_API_KEY", "DOCROUTER_API_KEY", "DOCROUTER_DB", "DOCROUTER_BASE_URL",
		"DOCROUTER_MODEL", "DOCROUTER_MODE", "DOCROUTER_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	return &testEnv{
		dir: dir,
		base: []string{
			"--config", filepath.Join(dir, "config.yaml"),
			"--env-file", filepath.Join(dir, "missing.env"),
			"--db", filepath.Join(dir, "log.db"),
			"--log-level", "error",
		},
	}
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(append(append([]string{}, e.base...), args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRoot_NoArgsPrintsUsage(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "")
	if err != nil {
		t.Fatalf("no args should succeed, got %v", err)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage, got:\n%s", out)
	}
}

func TestRoot_ClassifyFileThenHistory(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "order.json", `{"customer_name": "Acme Corp", "contact": "buyer@acme.example"}`)

	out, _, err := env.run(t, "", "--mode", "rules", path)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	// Without an API key the intent falls back to the sentinel.
	if !strings.Contains(out, "Classification: JSON Email\n") {
		t.Fatalf("missing classification line:\n%s", out)
	}
	idx := strings.Index(out, "Output:\n")
	if idx < 0 {
		t.Fatalf("missing Output header:\n%s", out)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out[idx+len("Output:\n"):]), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result["extraction_method"] != "regex" || result["file_format"] != "JSON" {
		t.Fatalf("result = %v", result)
	}
	details, _ := result["key_details"].(map[string]any)
	if emails, _ := details["emails"].([]any); len(emails) != 1 || emails[0] != "buyer@acme.example" {
		t.Fatalf("key_details = %v", details)
	}

	out, _, err = env.run(t, "", "history", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []struct {
		Source string `json:"source"`
		Type   string `json:"type"`
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("history json: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Source != "order.json" || entries[0].Type != "JSON" || entries[0].Intent != "Email" {
		t.Fatalf("entries = %+v", entries)
	}

	out, _, err = env.run(t, "", "intents")
	if err != nil || out != "Email\n" {
		t.Fatalf("intents = %q, %v", out, err)
	}
}

func TestClassify_PrintsBeforeRecording(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.run(t, "", "history"); err != nil {
		t.Fatalf("creating log: %v", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(env.dir, "log.db"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	_, err = db.Exec(`CREATE TRIGGER reject_inserts BEFORE INSERT ON memory
		BEGIN SELECT RAISE(ABORT, 'log is read-only'); END`)
	db.Close()
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	path := env.writeFile(t, "note.txt", "Please send a quote for 40 pallets.")
	out, _, err := env.run(t, "", "--mode", "rules", path)
	if err == nil || !strings.Contains(err.Error(), "result not recorded") {
		t.Fatalf("err = %v, want a recording failure", err)
	}
	if !strings.HasPrefix(out, "Classification: Email Email\nOutput:\n{") {
		t.Fatalf("result must be printed before the log write fails:\n%s", out)
	}
	if !strings.Contains(out, `"extraction_method": "regex"`) {
		t.Fatalf("output missing extraction:\n%s", out)
	}
}

func TestClassify_Stdin(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "Invoice #42 due 2024-03-01, total $1,250.00", "--mode", "rules", "classify", "--stdin")
	if err != nil {
		t.Fatalf("classify --stdin: %v", err)
	}
	if !strings.HasPrefix(out, "Classification: Email Email\n") {
		t.Fatalf("output:\n%s", out)
	}

	out, _, err = env.run(t, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "manual_input.txt") {
		t.Fatalf("history should list manual input:\n%s", out)
	}
}

func TestClassify_Errors(t *testing.T) {
	env := newTestEnv(t)
	empty := env.writeFile(t, "empty.txt", "  \n\t")
	badJSON := env.writeFile(t, "bad.json", `{"a":`)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{filepath.Join(env.dir, "nope.txt")}, "reading"},
		{"empty content", []string{empty}, "no content parsed"},
		{"invalid json", []string{badJSON}, "[parse]"},
		{"bad mode", []string{"--mode", "magic", empty}, "invalid extraction mode"},
		{"stdin and file", []string{"classify", "--stdin", empty}, "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.run(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	out, _, err := env.run(t, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No classifications recorded yet.") {
		t.Fatalf("failed runs must not be logged:\n%s", out)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "note.txt", "Call 555-123-4567 about the complaint.")
	for i := 0; i < 3; i++ {
		if _, _, err := env.run(t, "", "--mode", "rules", path); err != nil {
			t.Fatalf("classify %d: %v", i, err)
		}
	}

	out, _, err := env.run(t, "", "delete", "2")
	if err != nil || out != "Deleted entry 2\n" {
		t.Fatalf("delete 2 = %q, %v", out, err)
	}
	if _, _, err := env.run(t, "", "delete", "2"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("second delete err = %v", err)
	}
	if _, _, err := env.run(t, "", "delete"); err == nil {
		t.Fatal("delete without ids or --all should fail")
	}
	if _, _, err := env.run(t, "", "delete", "abc"); err == nil {
		t.Fatal("non-numeric id should fail")
	}

	out, _, err = env.run(t, "", "delete", "--all")
	if err != nil || out != "Deleted 2 entries\n" {
		t.Fatalf("delete --all = %q, %v", out, err)
	}
}

func TestConfigCommand_MasksKey(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("DOCROUTER_API_KEY", "nvapi-super-secret-9876")

	out, _, err := env.run(t, "", "--model", "meta/llama-3.1-8b-instruct", "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "super-secret") {
		t.Fatalf("api key leaked:\n%s", out)
	}
	var cfg struct {
		LLM struct {
			Model  struct{ Value, Source string } `json:"model"`
			APIKey struct{ Value string }         `json:"api_key"`
		} `json:"llm"`
	}
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("config json: %v\n%s", err, out)
	}
	if cfg.LLM.Model.Value != "meta/llama-3.1-8b-instruct" || cfg.LLM.Model.Source != "cli" {
		t.Fatalf("model = %+v", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey.Value != "****9876" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey.Value)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "", "version")
	if err != nil || out != "docrouter "+version+"\n" {
		t.Fatalf("version = %q, %v", out, err)
	}
}
