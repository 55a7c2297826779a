package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/annotator/internal/compositor"
	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/domain"
	"github.com/xiaot623/annotator/internal/hub"
	"github.com/xiaot623/annotator/internal/policy"
	"github.com/xiaot623/annotator/internal/service"
	"github.com/xiaot623/annotator/internal/testutil"
	httpserver "github.com/xiaot623/annotator/internal/transport/http"
	"github.com/xiaot623/annotator/internal/transport/ws"
)

const demoID = "67ab5cbfa0e3c13e75e895b2"

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testBackend struct {
	svc    *service.Service
	apiURL string
	wsURL  string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Annotator:      "anonymous",
		CORSOrigin:     "*",
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 4096,
	}
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)
	h := hub.NewHub()
	go h.Run(ctx)

	svc := service.New(testutil.NewSQLiteStore(t), cfg, engine, h)
	srv := httptest.NewServer(httpserver.NewAPIServer(svc, ws.NewServer(cfg, h), cfg))
	t.Cleanup(srv.Close)
	return &testBackend{
		svc:    svc,
		apiURL: srv.URL + "/api",
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (b *testBackend) seed(t *testing.T) (*domain.Rule, *domain.Conversation) {
	t.Helper()
	ctx := context.Background()
	rule, err := b.svc.CreateRule(ctx, domain.Rule{Domain: "ethics", Name: "Be polite", Category: "tone"})
	require.NoError(t, err)
	conv, err := b.svc.CreateConversation(ctx, domain.Conversation{
		Title:  "Support chat",
		Domain: "ethics",
		Conversation: []domain.Message{
			{Author: "user", Message: "Can you help me?"},
			{Author: "assistant", Message: "Go away."},
		},
	})
	require.NoError(t, err)
	return rule, conv
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd(newViper())
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestParseSpan(t *testing.T) {
	tests := []struct {
		in      string
		want    span
		wantErr bool
	}{
		{"2:0:5", span{2, 0, 5}, false},
		{"2:5", span{2, 5, 5}, false},
		{" 1 : 3 : 4 ", span{1, 3, 4}, false},
		{"2", span{}, true},
		{"2:a:5", span{}, true},
		{"2:-1:5", span{}, true},
		{"1:2:3:4", span{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSpan(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderPlan(t *testing.T) {
	plan := compositor.Compose(2, "China. I'm very embarrassed", []compositor.Mark{
		{Start: 0, End: 5, Kind: compositor.MarkViolationText, Comment: "be specific"},
		{Start: 5, End: 5, Kind: compositor.MarkViolationMissing, Insert: " (mainland)"},
	})

	var plain bytes.Buffer
	renderPlan(&plain, plan, false)
	assert.Equal(t, "[!China]<+ (mainland)>. I'm very embarrassed\n", plain.String())

	var colored bytes.Buffer
	renderPlan(&colored, plan, true)
	assert.Equal(t, "\x1b[41;97mChina\x1b[0m\x1b[1;33m (mainland)\x1b[0m. I'm very embarrassed\n", colored.String())

	var notes bytes.Buffer
	renderNotes(&notes, plan)
	assert.Equal(t, "    alert [0,5): be specific\n", notes.String())

	caretPlan := compositor.Compose(0, "ab", []compositor.Mark{{Start: 1, End: 1, Kind: compositor.MarkPending}})
	plain.Reset()
	renderPlan(&plain, caretPlan, false)
	assert.Equal(t, "a{^}b\n", plain.String())
}

func TestRenderOverlapNotes(t *testing.T) {
	plan := compositor.Compose(0, "abcdef", []compositor.Mark{
		{Start: 0, End: 4, Kind: compositor.MarkViolationText, Comment: "first"},
		{Start: 2, End: 6, Kind: compositor.MarkCompliance, Comment: "second"},
	})
	var out bytes.Buffer
	renderPlan(&out, plan, false)
	assert.Equal(t, "[!ab][+cd][+ef]\n", out.String())

	out.Reset()
	renderNotes(&out, plan)
	assert.Contains(t, out.String(), "affirmative [2,4) (2 marks): first | second")
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, []byte(`{"type":"annotations_changed","ts":0,"conversation_id":"c1","annotation_id":"a1"}`))
	printEvent(&out, []byte(`{"type":"annotations_changed","ts":0,"conversation_id":"c1"}`))
	printEvent(&out, []byte(`{"type":"error","ts":0,"code":"invalid_message","message":"bad"}`))
	printEvent(&out, []byte(`not json`))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "annotation a1 created in c1")
	assert.Contains(t, lines[1], "annotations changed in c1")
	assert.Contains(t, lines[2], "error [invalid_message]: bad")
	assert.Equal(t, "unreadable message: not json", lines[3])
}

func TestFixtureCommands(t *testing.T) {
	ctx := context.Background()

	out, _, err := run(t, ctx, "", "--backend-url", "fixture", "conversations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, demoID)

	out, _, err = run(t, ctx, "", "--backend-url", "fixture", "rules", "list", "--domain", "privacy")
	require.NoError(t, err)
	assert.Contains(t, out, "Personal Privacy")
	assert.NotContains(t, out, "Cultural Sensitivity")

	out, _, err = run(t, ctx, "", "--backend-url", "fixture", "annotate", demoID,
		"--span", "2:0:5", "--rule", "2", "--type", "compliance", "--comment", "neutral")
	require.NoError(t, err)
	assert.Contains(t, out, "created ")
	assert.Contains(t, out, "on message 2 [0,5)")

	_, errOut, err := run(t, ctx, "", "--backend-url", "fixture", "annotate", demoID, "--span", "2:0:5")
	require.Error(t, err)
	assert.Contains(t, errOut, "select a rule")

	_, _, err = run(t, ctx, "", "--backend-url", "fixture", "rules", "create", "--domain", "x", "--name", "y")
	assert.ErrorContains(t, err, "needs a running backend")

	out, _, err = run(t, ctx, "", "--backend-url", "fixture", "render", demoID, "--color", "never", "--pending", "2:0:5")
	require.NoError(t, err)
	assert.Contains(t, out, "{China}. I'm very embarrassed")
}

func TestRuleCommandsAgainstBackend(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	api := []string{"--backend-url", b.apiURL}

	out, _, err := run(t, ctx, "", append(api, "rules", "create", "--domain", "ethics", "--name", "No insults", "--category", "tone")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No insults")

	rules, err := b.svc.ListRules(ctx, "ethics")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	id := rules[0].ID

	_, _, err = run(t, ctx, "", append(api, "rules", "update", id)...)
	assert.ErrorContains(t, err, "nothing to update")

	out, _, err = run(t, ctx, "", append(api, "rules", "update", id, "--name", "No slurs")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No slurs")
	assert.Contains(t, out, "tone")

	out, _, err = run(t, ctx, "n\n", append(api, "rules", "delete", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, `delete rule "No slurs"`)
	assert.Contains(t, out, "aborted")
	_, err = b.svc.GetRule(ctx, id)
	require.NoError(t, err)

	out, _, err = run(t, ctx, "yes\n", append(api, "rules", "delete", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted rule "+id)
	_, err = b.svc.GetRule(ctx, id)
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, _, err = run(t, ctx, "", append(api, "health")...)
	assert.NoError(t, err)
}

func TestAnnotateAndRenderAgainstBackend(t *testing.T) {
	b := newTestBackend(t)
	rule, conv := b.seed(t)
	ctx := context.Background()
	api := []string{"--backend-url", b.apiURL, "--annotator", "u1"}

	out, _, err := run(t, ctx, "", append(api, "annotate", conv.ID,
		"--span", "1:0:8", "--rule", rule.ID, "--comment", "rude")...)
	require.NoError(t, err)
	assert.Contains(t, out, "on message 1 [0,8)")

	anns, err := b.svc.ListAnnotations(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "u1", anns[0].Annotator)

	out, _, err = run(t, ctx, "", append(api, "render", conv.ID, "--color", "never")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Can you help me?\n")
	assert.Contains(t, out, "[!Go away.]\n")
	assert.Contains(t, out, "alert [0,8): rude")

	out, _, err = run(t, ctx, "", append(api, "annotations", "list", conv.ID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "1:0:8")
	assert.Contains(t, out, "violation/text")

	// Offsets past the message end are rejected by the backend.
	_, _, err = run(t, ctx, "", append(api, "annotate", conv.ID,
		"--span", "0:0:40", "--rule", rule.ID, "--comment", "x")...)
	assert.Error(t, err)

	out, _, err = run(t, ctx, "y\n", append(api, "conversations", "delete", conv.ID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "and its 1 annotation(s)")
	assert.Contains(t, out, "deleted conversation "+conv.ID)
}

func TestWatchPrintsChanges(t *testing.T) {
	b := newTestBackend(t)
	rule, conv := b.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		root := newRootCmd(newViper())
		root.SetOut(out)
		root.SetArgs([]string{"--ws-url", b.wsURL, "watch", conv.ID})
		done <- root.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "watching "+conv.ID)
	}, 2*time.Second, 10*time.Millisecond)

	created, err := b.svc.CreateAnnotation(context.Background(), domain.Annotation{
		ConversationID: conv.ID,
		Selection: domain.Selection{
			MessageIndex: 1, StartOffset: 0, EndOffset: 2, RuleID: rule.ID,
			Type: domain.SelectionTypeViolation, ViolationType: domain.ViolationTypeText, Comment: "terse",
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "annotation "+created.ID+" created in "+conv.ID)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
