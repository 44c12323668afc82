package e2e

import (
	"net/http"
	"testing"
	"time"
)

// defaultWait bounds how long eviction may take to catch up
const defaultWait = 10 * time.Second

func waitEvicted(t *testing.T, tc *TestContext, id string) {
	t.Helper()
	eventually(t, defaultWait, func() bool {
		status, _ := tc.Metadata(id)
		return status == http.StatusNotFound && tc.BlobCount() == 0
	}, id+" should be evicted")
}

// TestNaturalExpiry verifies files disappear once their lifetime elapses
func TestNaturalExpiry(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("short", "short.txt", []byte("bye")); status != http.StatusOK {
			t.Fatalf("Upload returned %d", status)
		}
		if status, _, _ := tc.Download("short", "false"); status != http.StatusOK {
			t.Fatalf("File should be readable before expiry, got %d", status)
		}

		waitEvicted(t, tc, "short")
	}, WithExpiration(time.Second))
}

// TestEraseOnRead verifies a download removes the file by default
func TestEraseOnRead(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("once", "once.txt", []byte("read me once")); status != http.StatusOK {
			t.Fatalf("Upload returned %d", status)
		}

		status, body, _ := tc.Download("once", "")
		if status != http.StatusOK || string(body) != "read me once" {
			t.Fatalf("Download returned %d %q", status, body)
		}

		waitEvicted(t, tc, "once")
	}, WithEraseOnRead(true))
}

// TestEraseOverride verifies the erase query parameter overrides the default
func TestEraseOverride(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("keep", "keep.txt", []byte("keep")); status != http.StatusOK {
			t.Fatalf("Upload returned %d", status)
		}

		for range 3 {
			if status, _, _ := tc.Download("keep", "false"); status != http.StatusOK {
				t.Fatalf("Download with erase=false returned %d", status)
			}
		}

		if status, _, _ := tc.Download("keep", "true"); status != http.StatusOK {
			t.Fatalf("Download with erase=true returned %d", status)
		}
		waitEvicted(t, tc, "keep")
	}, WithEraseOnRead(true))
}

// TestExpireEndpoint verifies a forced expiry evicts the file
func TestExpireEndpoint(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("forced", "forced.txt", []byte("gone soon")); status != http.StatusOK {
			t.Fatalf("Upload returned %d", status)
		}
		if status := tc.Expire("forced"); status != http.StatusAccepted {
			t.Fatalf("Expire returned %d", status)
		}

		waitEvicted(t, tc, "forced")
	})
}

// TestPurge verifies a purge removes the file before returning
func TestPurge(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("purged", "purged.txt", []byte("x")); status != http.StatusOK {
			t.Fatalf("Upload returned %d", status)
		}
		if status := tc.Purge("purged"); status != http.StatusOK {
			t.Fatalf("Purge returned %d", status)
		}

		if status, _ := tc.Metadata("purged"); status != http.StatusNotFound {
			t.Errorf("Expected 404 after purge, got %d", status)
		}
		if n := tc.BlobCount(); n != 0 {
			t.Errorf("Expected no blobs after purge, got %d", n)
		}
	})
}

// TestExpiryLeavesOtherFiles verifies eviction is scoped to one id
func TestExpiryLeavesOtherFiles(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if status := tc.Upload("a", "a.txt", []byte("a")); status != http.StatusOK {
			t.Fatalf("Upload a returned %d", status)
		}
		if status := tc.Upload("b", "b.txt", []byte("b")); status != http.StatusOK {
			t.Fatalf("Upload b returned %d", status)
		}

		if status := tc.Expire("a"); status != http.StatusAccepted {
			t.Fatalf("Expire returned %d", status)
		}
		eventually(t, defaultWait, func() bool {
			status, _ := tc.Metadata("a")
			return status == http.StatusNotFound && tc.BlobCount() == 1
		}, "a should be evicted")

		status, body, _ := tc.Download("b", "false")
		if status != http.StatusOK || string(body) != "b" {
			t.Errorf("b should be untouched, got %d %q", status, body)
		}
	})
}
