package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

func writeCombined(t *testing.T, dataDir string, kind harvest.Kind, records []harvest.Record) {
	t.Helper()
	if _, err := harvest.NewWriter(dataDir).WriteCombined(kind, records); err != nil {
		t.Fatalf("Failed to write combined file: %v", err)
	}
}

func readLines(t *testing.T, path string) []Example {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer file.Close()

	var examples []Example
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var ex Example
		if err := json.Unmarshal(scanner.Bytes(), &ex); err != nil {
			t.Fatalf("Failed to decode line: %v", err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to scan %s: %v", path, err)
	}
	return examples
}

func incidentRecord(n int, tech string) harvest.Record {
	return harvest.Record{
		Technology: tech,
		Repo:       "kubernetes/kubernetes",
		Title:      "Pod stuck in CrashLoopBackOff",
		Problem:    "After upgrading to 1.29 the pod fails with error: container exited with code 137 and keeps restarting.",
		Solution:   "The issue is the memory limit. Increase resources.limits.memory to 512Mi and redeploy the deployment.",
		URL:        "https://github.com/kubernetes/kubernetes/issues/" + strings.Repeat("1", n),
		Metadata:   harvest.Metadata{Kind: harvest.KindIssues, Number: n},
	}
}

func reviewRecord() harvest.Record {
	return harvest.Record{
		Technology:  "python",
		Repo:        "psf/requests",
		CodeContext: "@@ -10,4 +10,5 @@ def get(url):\n     session = Session()\n-    return session.get(url)\n+    response = session.get(url)\n+    return response",
		Feedback:    "@alice This leaks the session. Wrap it in a `with Session() as session:` block so the pool is closed, see [docs](https://example.com).",
		URL:         "https://github.com/psf/requests/pull/42#discussion_r7",
		Metadata: harvest.Metadata{
			Kind:      harvest.KindReviewComments,
			Number:    42,
			CommentID: 7,
			FilePath:  "src/requests/api.py",
		},
	}
}

func TestFormatterRunChatML(t *testing.T) {
	dataDir := t.TempDir()

	var issues []harvest.Record
	for i := 1; i <= 10; i++ {
		issues = append(issues, incidentRecord(i, "kubernetes"))
	}
	short := incidentRecord(99, "kubernetes")
	short.Solution = "Fixed."
	issues = append(issues, short)

	writeCombined(t, dataDir, harvest.KindIssues, issues)
	writeCombined(t, dataDir, harvest.KindReviewComments, []harvest.Record{reviewRecord()})

	f, err := NewFormatter(Options{DataDir: dataDir, Format: FormatChatML, TrainRatio: 0.9, Seed: 42})
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}
	f.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	stats, err := f.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.TotalRaw != 12 {
		t.Errorf("Expected 12 raw records, got %d", stats.TotalRaw)
	}
	if stats.TotalKept != 11 {
		t.Errorf("Expected 11 kept records, got %d", stats.TotalKept)
	}
	if stats.Filtered[reasonSolutionTooShort] != 1 {
		t.Errorf("Expected 1 solution_too_short, got %v", stats.Filtered)
	}
	if stats.TrainCount != 9 || stats.EvalCount != 2 {
		t.Errorf("Expected 9/2 split, got %d/%d", stats.TrainCount, stats.EvalCount)
	}
	if stats.SourceCounts["issues"] != 11 || stats.SourceCounts["review_comments"] != 1 {
		t.Errorf("Unexpected source counts: %v", stats.SourceCounts)
	}

	all := append(readLines(t, stats.TrainPath), readLines(t, stats.EvalPath)...)
	if len(all) != 11 {
		t.Fatalf("Expected 11 examples on disk, got %d", len(all))
	}

	var review *Example
	for i := range all {
		if len(all[i].Messages) != 3 {
			t.Fatalf("Expected 3 messages, got %d", len(all[i].Messages))
		}
		if all[i].Meta.Kind == "review_comments" {
			review = &all[i]
		}
	}
	if review == nil {
		t.Fatal("Review example missing from output")
	}

	if review.Meta.Identifier != "42/7" {
		t.Errorf("Expected identifier 42/7, got %s", review.Meta.Identifier)
	}
	user := review.Messages[1].Content
	if !strings.HasPrefix(user, "Review this Python code from `api.py`:") {
		t.Errorf("Unexpected review prompt: %s", user)
	}
	if strings.Contains(user, "@@") {
		t.Errorf("Diff header should be stripped: %s", user)
	}
	answer := review.Messages[2].Content
	if strings.Contains(answer, "@alice") || strings.Contains(answer, "https://example.com") {
		t.Errorf("Comment should be cleaned, got %s", answer)
	}
	if !strings.Contains(answer, "see docs") {
		t.Errorf("Link text should be kept, got %s", answer)
	}

	if _, err := os.Stat(filepath.Join(dataDir, "processed", "stats.json")); err != nil {
		t.Errorf("stats.json not written: %v", err)
	}
}

func TestFormatterDeterministic(t *testing.T) {
	dataDir := t.TempDir()

	var issues []harvest.Record
	for i := 1; i <= 20; i++ {
		issues = append(issues, incidentRecord(i, "docker"))
	}
	writeCombined(t, dataDir, harvest.KindIssues, issues)

	run := func() (string, string) {
		f, err := NewFormatter(Options{DataDir: dataDir, Format: FormatAlpaca, TrainRatio: 0.75, Seed: 42})
		if err != nil {
			t.Fatalf("NewFormatter failed: %v", err)
		}
		stats, err := f.Run([]harvest.Kind{harvest.KindIssues})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		train, _ := os.ReadFile(stats.TrainPath)
		eval, _ := os.ReadFile(stats.EvalPath)
		return string(train), string(eval)
	}

	train1, eval1 := run()
	train2, eval2 := run()
	if train1 != train2 || eval1 != eval2 {
		t.Error("Expected identical output for the same seed")
	}

	examples := readLines(t, filepath.Join(dataDir, "processed", "train.jsonl"))
	if len(examples) != 15 {
		t.Fatalf("Expected 15 training examples, got %d", len(examples))
	}
	ex := examples[0]
	if ex.Messages != nil {
		t.Error("Alpaca rows should not carry messages")
	}
	if ex.Instruction != "Analyze this docker incident and provide diagnosis and fix:" {
		t.Errorf("Unexpected instruction: %s", ex.Instruction)
	}
	if !strings.HasPrefix(ex.Input, "Pod stuck in CrashLoopBackOff\n\n") {
		t.Errorf("Expected title to be prepended, got %s", ex.Input)
	}
}

func TestFormatterNoInput(t *testing.T) {
	f, err := NewFormatter(Options{DataDir: t.TempDir(), Format: FormatChatML, TrainRatio: 0.9, Seed: 42})
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}

	if _, err := f.Run(nil); !errors.Is(err, ErrNoInput) {
		t.Errorf("Expected ErrNoInput, got %v", err)
	}
}

func TestNewFormatterValidation(t *testing.T) {
	if _, err := NewFormatter(Options{DataDir: "data", Format: "sharegpt", TrainRatio: 0.9}); err == nil {
		t.Error("Expected error for unknown format")
	}
	if _, err := NewFormatter(Options{DataDir: "data", Format: FormatChatML, TrainRatio: 0}); err == nil {
		t.Error("Expected error for zero train ratio")
	}
}

func TestExtractErrorSnippet(t *testing.T) {
	short := "error: something broke"
	if got := extractErrorSnippet(short, 1500); got != short {
		t.Errorf("Short text should be unchanged, got %q", got)
	}

	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("just some log noise that does not matter at all\n")
	}
	b.WriteString("Traceback (most recent call last):\n")
	b.WriteString("  File \"app.py\", line 3\n")
	b.WriteString("ValueError: bad value\n")

	got := extractErrorSnippet(b.String(), 200)
	if !strings.HasPrefix(got, "Traceback") {
		t.Errorf("Expected snippet to start at the traceback, got %q", got)
	}
	if strings.Contains(got, "log noise") {
		t.Errorf("Expected noise lines to be dropped, got %q", got)
	}

	noErrors := strings.Repeat("plain text ", 50)
	got = extractErrorSnippet(noErrors, 100)
	if !strings.HasSuffix(got, "\n... (truncated)") {
		t.Errorf("Expected truncation marker, got %q", got)
	}
	if len(strings.TrimSuffix(got, "\n... (truncated)")) != 100 {
		t.Errorf("Expected 100 characters before the marker, got %d", len(got))
	}
}

func TestCleanDiffHunk(t *testing.T) {
	hunk := "@@ -1,3 +1,3 @@\n def f():\n-    return 1\n+    return 2"
	want := "def f():\n    return 1\n    return 2"
	if got := cleanDiffHunk(hunk); got != want {
		t.Errorf("cleanDiffHunk() = %q, want %q", got, want)
	}
}

func TestCleanComment(t *testing.T) {
	in := "@bob please check ![img](http://x/y.png) the [guide](http://x)\n\n\n\nthanks"
	want := "please check  the guide\n\nthanks"
	if got := cleanComment(in); got != want {
		t.Errorf("cleanComment() = %q, want %q", got, want)
	}
}

func TestCheckReview(t *testing.T) {
	code := "def handler(event):\n    return event['body']"

	tests := []struct {
		name    string
		comment string
		want    string
	}{
		{"accepted", "This will raise KeyError when the body is missing, use event.get('body').", ""},
		{"too short", "nit: rename", reasonCommentTooShort},
		{"question", "Why do we need this here? Is it used anywhere else?", reasonMostlyQuestions},
		{"author response", "Thanks for the review, I moved it into the helper module.", reasonAuthorResponse},
		{"low quality", "LGTM, this looks good to me and can be merged now.", reasonLowQuality},
		{"non english", "Это вызовет ошибку, если тело запроса отсутствует в событии", reasonNonEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := checkReview(code, tt.comment)
			if tt.want == "" && !ok {
				t.Errorf("Expected comment to pass, got %s", reason)
			}
			if tt.want != "" && reason != tt.want {
				t.Errorf("Expected reason %s, got %s", tt.want, reason)
			}
		})
	}
}

func TestCheckIncident(t *testing.T) {
	problem := "Deploy fails with error: connection refused when the pod starts on the new node."
	solution := "The issue is the service port. Change targetPort to 8080 and redeploy the service."

	if ok, reason := checkIncident(problem, solution); !ok {
		t.Errorf("Expected incident to pass, got %s", reason)
	}

	calm := "The dashboard shows a nice green graph and everything is fine with the cluster today."
	if _, reason := checkIncident(calm, solution); reason != reasonNoErrorIndicator {
		t.Errorf("Expected no_error_indicator, got %s", reason)
	}

	vague := "Hmm, I am not sure what happened here but it went away by itself after a while."
	if _, reason := checkIncident(problem, vague); reason != reasonNoActionable {
		t.Errorf("Expected no_actionable_solution, got %s", reason)
	}
}
