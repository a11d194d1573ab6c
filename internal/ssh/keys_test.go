package ssh

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	crypto "github.com/yourusername/wordpress-backup/internal/crypto"
	"github.com/yourusername/wordpress-backup/internal/ssh/sshtest"
)

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestWithTransientKeyFileRemovesFile(t *testing.T) {
	dir := t.TempDir()
	var seen string

	err := WithTransientKeyFile(dir, []byte("material"), func(path string) error {
		seen = path
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected key file to exist: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Fatalf("expected 0600, got %v", info.Mode().Perm())
		}
		data, _ := os.ReadFile(path)
		if string(data) != "material\n" {
			t.Fatalf("unexpected content %q", string(data))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(seen); !os.IsNotExist(err) {
		t.Fatalf("expected key file to be removed, stat err: %v", err)
	}
	assertDirEmpty(t, dir)
}

func TestWithTransientKeyFileRemovesFileOnError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")

	err := WithTransientKeyFile(dir, []byte("material"), func(path string) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	assertDirEmpty(t, dir)
}

func TestDialRemovesKeyFileWhenKeyIsInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Dial(context.Background(), &ClientConfig{
		Host:       "127.0.0.1",
		Port:       closedPort(t),
		Username:   "test",
		PrivateKey: []byte("not a key"),
		KeyTempDir: dir,
	})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	assertDirEmpty(t, dir)
}

func TestDialRemovesKeyFileWhenConnectionFails(t *testing.T) {
	dir := t.TempDir()
	key, _ := sshtest.GenerateKey(t)

	_, err := Dial(context.Background(), &ClientConfig{
		Host:       "127.0.0.1",
		Port:       closedPort(t),
		Username:   "test",
		PrivateKey: key,
		KeyTempDir: dir,
		Timeout:    2 * time.Second,
	})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	assertDirEmpty(t, dir)
}

func TestDialRemovesKeyFileAfterSuccess(t *testing.T) {
	dir := t.TempDir()
	key, public := sshtest.GenerateKey(t)
	server := sshtest.NewServer(t, sshtest.Options{AuthorizedKey: public})

	client, err := Dial(context.Background(), &ClientConfig{
		Host:       server.Addr,
		Username:   "test",
		PrivateKey: key,
		KeyTempDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer client.Close()

	assertDirEmpty(t, dir)
}

func TestDialWithWrappedKey(t *testing.T) {
	raw := make([]byte, 32)
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(raw))
	manager, err := crypto.NewEncryptionManager()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	key, public := sshtest.GenerateKey(t)
	wrapped, err := manager.WrapKey(key)
	if err != nil {
		t.Fatalf("failed to wrap key: %v", err)
	}
	server := sshtest.NewServer(t, sshtest.Options{AuthorizedKey: public})

	client, err := Dial(context.Background(), &ClientConfig{
		Host:       server.Addr,
		Username:   "test",
		PrivateKey: []byte(wrapped),
		KeyTempDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to dial with wrapped key: %v", err)
	}
	client.Close()
}

func closedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}
