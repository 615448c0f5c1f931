package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chrisgavin/trailbot/internal/camera"
	"github.com/chrisgavin/trailbot/internal/fault"
	"github.com/chrisgavin/trailbot/internal/ledger"
)

const testCamera = "AA:BB:CC:DD:EE:01"

// recordingAppender captures ledger entries in memory.
type recordingAppender struct {
	mu      sync.Mutex
	entries []ledger.Entry
	err     error
}

func (a *recordingAppender) Append(e ledger.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAppender) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func fastOptions() Options {
	return Options{Retries: 2, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}
}

func testRef() camera.RemoteFileRef {
	return camera.RemoteFileRef{
		RemoteName:  "img002.jpg",
		RemotePath:  "/DCIM/PHOTO/img002.jpg",
		CaptureDate: "2026-08-30",
		Type:        camera.FileTypePhoto,
	}
}

func TestFetchWritesFileAndLedger(t *testing.T) {
	content := []byte("jpeg bytes here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	appender := &recordingAppender{}
	d := NewDownloader(srv.URL, appender, fastOptions(), zap.NewNop())
	destDir := t.TempDir()

	entry, err := d.Fetch(context.Background(), testCamera, testRef(), destDir)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	wantPath := filepath.Join(destDir, "2026-08-30 - img002.jpg")
	if entry.LocalPath != wantPath {
		t.Errorf("LocalPath = %q, want %q", entry.LocalPath, wantPath)
	}
	got, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("file content = %q, want %q", got, content)
	}
	if entry.ByteSize != int64(len(content)) {
		t.Errorf("ByteSize = %d, want %d", entry.ByteSize, len(content))
	}
	if appender.count() != 1 {
		t.Errorf("ledger entries = %d, want 1", appender.count())
	}
	if _, err := os.Stat(wantPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful fetch")
	}
}

func TestFetchRetriesTransferErrors(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	appender := &recordingAppender{}
	d := NewDownloader(srv.URL, appender, fastOptions(), zap.NewNop())

	_, err := d.Fetch(context.Background(), testCamera, testRef(), t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v, want success on retry", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	appender := &recordingAppender{}
	d := NewDownloader(srv.URL, appender, fastOptions(), zap.NewNop())
	destDir := t.TempDir()

	_, err := d.Fetch(context.Background(), testCamera, testRef(), destDir)
	if fault.KindOf(err) != fault.KindTransferError {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindTransferError)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3", requests)
	}
	if appender.count() != 0 {
		t.Error("failed download must not produce ledger entries")
	}
	leftovers, _ := filepath.Glob(filepath.Join(destDir, "*"))
	if len(leftovers) != 0 {
		t.Errorf("leftover files after failure: %v", leftovers)
	}
}

func TestFetchZeroRetriesMeansSingleAttempt(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.Retries = 0
	d := NewDownloader(srv.URL, &recordingAppender{}, opts, zap.NewNop())

	_, err := d.Fetch(context.Background(), testCamera, testRef(), t.TempDir())
	if fault.KindOf(err) != fault.KindTransferError {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindTransferError)
	}
	if requests != 1 {
		t.Errorf("requests = %d, zero retries must mean one attempt", requests)
	}
}

func TestFetchSizeMismatchNotRetried(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Flush forces chunked encoding so no Content-Length is sent and
		// the listing-advertised size is what gets checked.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	appender := &recordingAppender{}
	d := NewDownloader(srv.URL, appender, fastOptions(), zap.NewNop())
	destDir := t.TempDir()

	ref := testRef()
	ref.RemoteSize = 9999

	_, err := d.Fetch(context.Background(), testCamera, ref, destDir)
	if fault.KindOf(err) != fault.KindSizeMismatch {
		t.Fatalf("kind = %v, want %v", fault.KindOf(err), fault.KindSizeMismatch)
	}
	if requests != 1 {
		t.Errorf("requests = %d, size mismatch must not be retried", requests)
	}
	if appender.count() != 0 {
		t.Error("size-mismatched download must not produce ledger entries")
	}
	leftovers, _ := filepath.Glob(filepath.Join(destDir, "*"))
	if len(leftovers) != 0 {
		t.Errorf("leftover files after size mismatch: %v", leftovers)
	}
}

func TestFetchLedgerFailureKeepsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	appender := &recordingAppender{err: os.ErrPermission}
	d := NewDownloader(srv.URL, appender, fastOptions(), zap.NewNop())
	destDir := t.TempDir()

	_, err := d.Fetch(context.Background(), testCamera, testRef(), destDir)
	if fault.KindOf(err) != fault.KindDiskError {
		t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindDiskError)
	}
	// The invariant is one-directional: a file without a ledger entry is
	// fine, an entry without a file is not.
	if _, statErr := os.Stat(filepath.Join(destDir, "2026-08-30 - img002.jpg")); statErr != nil {
		t.Errorf("final file should remain when only the ledger append failed: %v", statErr)
	}
}

func TestCleanRemoteSendsDelete(t *testing.T) {
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("del") == "1" {
			deleted = append(deleted, r.URL.Path)
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, &recordingAppender{}, fastOptions(), zap.NewNop())
	if err := d.CleanRemote(context.Background(), testRef()); err != nil {
		t.Fatalf("CleanRemote() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "/DCIM/PHOTO/img002.jpg" {
		t.Errorf("deleted = %v", deleted)
	}
}
