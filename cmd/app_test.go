package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-mailer/internal/campaign"
	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/internal/events"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/parser"
	"github.com/sells-group/lead-mailer/internal/render"
)

// testConfig sets the package config to a SQLite store in a temp dir with the
// log transport and no OCR fallback.
func testConfig(t *testing.T) {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "mailer.db")
	c.Mail.Transport = "log"
	c.Mail.FromEmail = "funding@example.com"
	c.Mail.FromName = "Example Funding"
	c.Dispatch.RateLimit = 1000
	c.Dispatch.WindowSecs = 1
	c.Dispatch.MaxAttempts = 1
	c.Dispatch.InitialBackoffMs = 1
	c.Dispatch.MaxBackoffMs = 1
	c.Dispatch.Multiplier = 2
	c.OCR.Provider = "none"
	c.Campaign.DefaultTone = "conservative"
	c.Branding.BusinessName = "Example Funding"
	c.Branding.OptoutLink = "https://example.com/unsubscribe"

	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestInitStore_SQLiteMigrates(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	added, err := st.AddSuppression(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestInitApp_PrepareAndDryRunSend(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	a, err := initApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, events.Nop{}, a.Events)

	prep, err := a.Campaign.Prepare(ctx, []parser.Upload{
		{Filename: "leads.csv", Data: []byte("email,company\na@x.com,Acme\nb@x.com,Beta\n")},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, prep.LeadCount)
	assert.Equal(t, "conservative", prep.Tone)

	res, err := a.Campaign.Send(ctx, campaign.SendRequest{PrepareID: prep.JobID, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDryRun, res.Status)

	jobs, err := a.Store.ListJobs(ctx, model.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestInitApp_UnknownTransport(t *testing.T) {
	testConfig(t)
	cfg.Mail.Transport = "fax"

	_, err := initApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init mail transport")
}

func TestInitEvents_BadURL(t *testing.T) {
	testConfig(t)
	cfg.Events.AMQPURL = "not-a-url"

	_, err := initEvents()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init event publisher")
}

func TestReadUploads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte("email\na@x.com\n"), 0o644))

	uploads, err := readUploads([]string{path})
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "leads.csv", uploads[0].Filename)
	assert.Equal(t, "email\na@x.com\n", string(uploads[0].Data))

	_, err = readUploads([]string{filepath.Join(dir, "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.csv")
}

func TestImportSuppressions(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	csv := "\ufeffName,Email\nAnn,A@X.com\nBob,\nCid,b@x.com\nDup,a@x.com\n"
	read, added, err := importSuppressions(ctx, st, strings.NewReader(csv), "email")
	require.NoError(t, err)
	assert.Equal(t, 3, read)
	assert.Equal(t, int64(2), added)

	ok, err := st.IsSuppressed(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestImportSuppressions_MissingColumn(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, _, err = importSuppressions(ctx, st, strings.NewReader("name\nAnn\n"), "email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "email" not found`)
}

func TestImportSuppressions_Batches(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	var b strings.Builder
	b.WriteString("email\n")
	for i := range importBatchSize + 7 {
		fmt.Fprintf(&b, "user%d@x.com\n", i)
	}
	read, added, err := importSuppressions(ctx, st, strings.NewReader(b.String()), "email")
	require.NoError(t, err)
	assert.Equal(t, importBatchSize+7, read)
	assert.Equal(t, int64(importBatchSize+7), added)
}

func TestFormatJobsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	jobs := []model.Job{
		{ID: "abc12345-6789", Kind: model.JobKindPrepare, Status: model.StatusPrepared, CreatedAt: now, UpdatedAt: now},
		{ID: "def12345-6789", Kind: model.JobKindSend, Status: model.StatusCompletedWithErrors, CreatedAt: now, UpdatedAt: now.Add(time.Minute)},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "abc12345-6789")
	assert.Contains(t, out, "prepared")
	assert.Contains(t, out, "completed_with_errors")
	assert.Contains(t, out, "2025-06-15 10:31")
}

func TestFormatSuppressions(t *testing.T) {
	var buf bytes.Buffer
	formatSuppressions(&buf, []model.Suppression{
		{Email: "a@x.com", AddedAt: time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)},
	})
	assert.Contains(t, buf.String(), "a@x.com")
	assert.Contains(t, buf.String(), "2025-01-02 03:04")
}

func TestFormatTones(t *testing.T) {
	r, err := render.New()
	require.NoError(t, err)

	var buf bytes.Buffer
	formatTones(&buf, r, "assertive")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SUBJECT")
	assert.Regexp(t, `^assertive\s+\*\s+Funding options`, lines[2])
	assert.Regexp(t, `^conservative\s+Funding options`, lines[3])
}

func TestFormatTones_UnknownDefault(t *testing.T) {
	r, err := render.New()
	require.NoError(t, err)

	var buf bytes.Buffer
	formatTones(&buf, r, "shouty")
	assert.Regexp(t, `conservative\s+\*`, buf.String())
}

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck
	return port
}

func TestRunServer_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := getFreePort(t)
	srv := &http.Server{
		Addr: fmt.Sprintf("127.0.0.1:%d", port),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	var ready bool
	for range 50 {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err == nil {
			resp.Body.Close() //nolint:errcheck
			ready = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ready, "server did not start")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck

	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	err = runServer(context.Background(), srv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server listen")
}
