package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"filecatalog/client"
	"filecatalog/config"
	"filecatalog/core"
	"filecatalog/protocol"
)

type fixtureFile struct {
	rel   string
	size  int
	mtime time.Time
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.Local)
}

var catalogFiles = []fixtureFile{
	{"a.txt", 500, day(2023, 1, 1)},
	{"b.log", 1500, day(2023, 6, 1)},
	{"docs/c.md", 50, day(2022, 5, 5)},
}

func buildRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range catalogFiles {
		p := filepath.Join(root, filepath.FromSlash(f.rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, bytes.Repeat([]byte(f.rel[:1]), f.size), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, f.mtime, f.mtime); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

type testServer struct {
	addr    string
	root    string
	scratch string
	srv     *Server
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	root := buildRoot(t)
	scratch := t.TempDir()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Options{
		Root:             config.Root{Type: "local", Path: root},
		ScratchDir:       scratch,
		CompressionLevel: 6,
		ChunkSize:        512,
	})
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		addr:    ln.Addr().String(),
		root:    root,
		scratch: scratch,
		srv:     srv,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ts.cancel()
	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func (ts *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	cl, err := client.Dial(ts.addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return cl
}

// fetch runs an archive command and returns the sorted member names.
func fetch(t *testing.T, cl *client.Client, line string) []string {
	t.Helper()
	var buf bytes.Buffer
	_, reply, err := cl.Do(line, &buf)
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	if !reply.IsArtifact() {
		t.Fatalf("%s: got %s %q, want an archive", line, reply.Status, reply.Text)
	}
	if int64(buf.Len()) != reply.Size {
		t.Fatalf("%s: received %d bytes, announced %d", line, buf.Len(), reply.Size)
	}
	files, err := client.Extract(bytes.NewReader(buf.Bytes()), t.TempDir())
	if err != nil {
		t.Fatalf("%s: extract: %v", line, err)
	}
	sort.Strings(files)
	return files
}

func text(t *testing.T, cl *client.Client, line string) client.Reply {
	t.Helper()
	reply, err := cl.Raw(line, nil)
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return reply
}

func TestServer_Catalog(t *testing.T) {
	defer leaktest.Check(t)()
	ts := startServer(t)
	defer ts.stop(t)
	cl := ts.dial(t)
	defer cl.Close()

	archives := []struct {
		line string
		want []string
	}{
		{"find-by-size 100 1000", []string{"a.txt"}},
		{"find-by-size 50 1500", []string{"a.txt", "b.log", "docs/c.md"}},
		{"find-by-extension .log", []string{"b.log"}},
		{"w24ft md txt -u", []string{"a.txt", "docs/c.md"}},
		{"find-by-date-before 2023-03-01", []string{"a.txt", "docs/c.md"}},
		{"find-by-date-after 2023-03-01", []string{"b.log"}},
	}
	for _, tc := range archives {
		if got := fetch(t, cl, tc.line); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s = %v, want %v", tc.line, got, tc.want)
		}
	}

	texts := []struct {
		line   string
		status protocol.Status
		text   string
	}{
		{"find-by-name c.txt", protocol.StatusNotFound, "File not found\n"},
		{"find-by-extension .zip", protocol.StatusNotFound, "No file found\n"},
		{"find-by-size 2000 3000", protocol.StatusNotFound, "No file found\n"},
		{"list-dirs -a", protocol.StatusOK, "docs\n"},
	}
	for _, tc := range texts {
		reply := text(t, cl, tc.line)
		if reply.Status != tc.status || reply.Text != tc.text {
			t.Errorf("%s = %s %q, want %s %q", tc.line, reply.Status, reply.Text, tc.status, tc.text)
		}
	}

	reply := text(t, cl, "find-by-name c.md")
	if reply.Status != protocol.StatusOK {
		t.Fatalf("find-by-name c.md = %s %q", reply.Status, reply.Text)
	}
	for _, want := range []string{
		"File Path: " + filepath.ToSlash(filepath.Join(ts.root, "docs")) + "\n",
		"Filename: c.md\n",
		"File Size: 50\n",
		"Permissions: 644\n",
	} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("find-by-name record %q lacks %q", reply.Text, want)
		}
	}

	reply = text(t, cl, "list-dirs -t")
	if reply.Status != protocol.StatusOK || !strings.HasPrefix(reply.Text, "docs - ") {
		t.Errorf("list-dirs -t = %s %q", reply.Status, reply.Text)
	}
}

func TestServer_ErrorsKeepSessionOpen(t *testing.T) {
	defer leaktest.Check(t)()
	ts := startServer(t)
	defer ts.stop(t)
	cl := ts.dial(t)
	defer cl.Close()

	for _, line := range []string{
		"bogus",
		"find-by-size 10",
		"find-by-size 9 1",
		"find-by-date-before 2023-13-01",
		"find-by-extension a b c d",
		"list-dirs -x",
		strings.Repeat("x", config.DefaultMaxLineBytes+100),
	} {
		reply := text(t, cl, line)
		if reply.Status != protocol.StatusError {
			t.Errorf("%.20s: status %s, want ERROR", line, reply.Status)
		}
	}

	if got := fetch(t, cl, "find-by-size 100 1000"); !reflect.DeepEqual(got, []string{"a.txt"}) {
		t.Errorf("after errors: %v", got)
	}
}

func TestServer_Quit(t *testing.T) {
	defer leaktest.Check(t)()
	ts := startServer(t)
	defer ts.stop(t)
	cl := ts.dial(t)
	defer cl.Close()

	req, reply, err := cl.Do("quitc", nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.Verb != protocol.Quit || reply.Status != protocol.StatusOK {
		t.Fatalf("quit = %s %q", reply.Status, reply.Text)
	}
	if _, err := cl.Raw("list-dirs -a", nil); err == nil {
		t.Error("connection still served after quit")
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	defer leaktest.Check(t)()
	ts := startServer(t)
	defer ts.stop(t)

	const clients = 8
	out := t.TempDir()
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cl, err := client.Dial(ts.addr, time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer cl.Close()
			for j := 0; j < 3; j++ {
				var buf bytes.Buffer
				_, reply, err := cl.Do("find-by-extension log md", &buf)
				if err != nil {
					errs <- err
					return
				}
				files, err := client.Extract(bytes.NewReader(buf.Bytes()), filepath.Join(out, fmt.Sprintf("%d-%d", i, j)))
				if err != nil || len(files) != 2 || !reply.IsArtifact() {
					errs <- fmt.Errorf("client %d: files %v err %v", i, files, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	defer leaktest.Check(t)()
	ts := startServer(t)
	cl := ts.dial(t)
	defer cl.Close()

	// Make sure the session is running before shutting down.
	if reply := text(t, cl, "list-dirs -a"); reply.Status != protocol.StatusOK {
		t.Fatalf("list-dirs -a = %s", reply.Status)
	}
	if fetch(t, cl, "find-by-size 0 100000") == nil {
		t.Fatal("no files")
	}
	ts.stop(t)

	if n := ts.srv.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections = %d after shutdown", n)
	}
	if _, err := cl.Raw("list-dirs -a", nil); err == nil {
		t.Error("session survived shutdown")
	}

	entries, err := os.ReadDir(ts.scratch)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "ledger.json" {
			t.Errorf("scratch dir still holds %s", e.Name())
		}
	}
	if ts.srv.opts.Ledger.Len() != 0 {
		t.Errorf("ledger still tracks %v", ts.srv.opts.Ledger.Records)
	}
}

func TestServer_ScratchInsideRootIsNotServed(t *testing.T) {
	defer leaktest.Check(t)()
	root := buildRoot(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	scratch := filepath.Join(root, ".catalog")
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "stale.tar.gz"), []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	srv := New(Options{
		Root:       config.Root{Type: "local", Path: root},
		ScratchDir: scratch,
	})
	if !reflect.DeepEqual(srv.exclude, []string{".catalog"}) {
		t.Fatalf("exclude = %v", srv.exclude)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	cl, err := client.Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()
	for i := 0; i < 2; i++ {
		if got := fetch(t, cl, "find-by-extension gz txt"); !reflect.DeepEqual(got, []string{"a.txt"}) {
			t.Errorf("round %d: %v", i, got)
		}
	}
}

func TestServer_ArchiveFailureKeepsSessionOpen(t *testing.T) {
	defer leaktest.Check(t)()
	root := buildRoot(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Options{
		Root:       config.Root{Type: "local", Path: root},
		ScratchDir: filepath.Join(blocker, "scratch"),
		Ledger:     core.NewArtifactLedger(filepath.Join(t.TempDir(), "ledger.json")),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	cl, err := client.Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	var artifact bytes.Buffer
	_, reply, err := cl.Do("find-by-size 0 10000", &artifact)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Status != protocol.StatusError || reply.Text != "Error creating file archive\n" {
		t.Errorf("reply = %s %q", reply.Status, reply.Text)
	}
	if artifact.Len() != 0 {
		t.Errorf("%d artifact bytes sent on failure", artifact.Len())
	}

	if reply := text(t, cl, "list-dirs -a"); reply.Status != protocol.StatusOK || reply.Text != "docs\n" {
		t.Errorf("list-dirs -a after failure = %s %q", reply.Status, reply.Text)
	}
}
