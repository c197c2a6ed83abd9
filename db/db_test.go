package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatd/models"

	"golang.org/x/crypto/bcrypt"
)

func setupSQLite(t *testing.T) Gateway {
	t.Helper()
	gw, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"), BcryptHasher{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func setupPostgres(t *testing.T) Gateway {
	t.Helper()
	url := os.Getenv("CHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	gw, err := NewPostgres(ctx, url, BcryptHasher{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if _, err := gw.pool.Exec(ctx, "TRUNCATE messages, users RESTART IDENTITY"); err != nil {
		t.Fatalf("Failed to reset tables: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func TestSQLiteGateway(t *testing.T) {
	runGatewaySuite(t, setupSQLite)
}

func TestPostgresGateway(t *testing.T) {
	runGatewaySuite(t, setupPostgres)
}

func runGatewaySuite(t *testing.T, setup func(*testing.T) Gateway) {
	t.Run("RegisterAndAuthenticate", func(t *testing.T) { testRegisterAndAuthenticate(t, setup(t)) })
	t.Run("PublicHistory", func(t *testing.T) { testPublicHistory(t, setup(t)) })
	t.Run("PrivateHistory", func(t *testing.T) { testPrivateHistory(t, setup(t)) })
	t.Run("SaveRejectsUnresolved", func(t *testing.T) { testSaveRejectsUnresolved(t, setup(t)) })
	t.Run("Seed", func(t *testing.T) { testSeed(t, setup(t)) })
}

func testRegisterAndAuthenticate(t *testing.T, gw Gateway) {
	ctx := context.Background()

	alice, err := gw.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if alice.ID == 0 || alice.Username != "alice" {
		t.Fatalf("Unexpected user: %+v", alice)
	}
	if alice.Password != "" {
		t.Error("Register must not return the password")
	}

	if _, err := gw.Register(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}

	got, err := gw.Authenticate(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got == nil || got.ID != alice.ID {
		t.Fatalf("Expected user id %d, got %+v", alice.ID, got)
	}

	// stable id across logins
	again, _ := gw.Authenticate(ctx, "alice", "pw1")
	if again == nil || again.ID != alice.ID {
		t.Errorf("Expected stable id %d, got %+v", alice.ID, again)
	}

	for _, tc := range []struct{ user, pass string }{
		{"alice", "wrong"},
		{"alice", "PW1"},
		{"alice", ""},
		{"nobody", "pw1"},
	} {
		u, err := gw.Authenticate(ctx, tc.user, tc.pass)
		if err != nil {
			t.Errorf("Authenticate(%q, %q) error: %v", tc.user, tc.pass, err)
		}
		if u != nil {
			t.Errorf("Authenticate(%q, %q) should fail, got %+v", tc.user, tc.pass, u)
		}
	}

	users, err := gw.AllUsers(ctx)
	if err != nil {
		t.Fatalf("AllUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" || users[0].Password != "" {
		t.Errorf("Unexpected users: %+v", users)
	}
}

func testPublicHistory(t *testing.T, gw Gateway) {
	ctx := context.Background()
	alice := mustRegister(t, gw, "alice")
	bob := mustRegister(t, gw, "bob")

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	contents := []string{"one", "two", "three", "four"}
	for i, c := range contents {
		msg := &models.Message{Sender: alice, Content: c, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := gw.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
		if msg.ID == 0 {
			t.Error("SaveMessage should assign an id")
		}
	}
	// private traffic must not leak into public history
	if err := gw.SaveMessage(ctx, &models.Message{Sender: alice, Receiver: bob, Content: "secret", Timestamp: base}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	recent, err := gw.RecentPublicMessages(ctx, 3)
	if err != nil {
		t.Fatalf("RecentPublicMessages failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(recent))
	}
	for i, want := range []string{"two", "three", "four"} {
		if recent[i].Content != want {
			t.Errorf("Message %d: expected %q, got %q", i, want, recent[i].Content)
		}
		if recent[i].Sender == nil || recent[i].Sender.Username != "alice" {
			t.Errorf("Message %d: unexpected sender %+v", i, recent[i].Sender)
		}
		if recent[i].Receiver != nil {
			t.Errorf("Message %d: public message with receiver %+v", i, recent[i].Receiver)
		}
	}
	if !recent[2].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("Timestamp not preserved: %v", recent[2].Timestamp)
	}
}

func testPrivateHistory(t *testing.T, gw Gateway) {
	ctx := context.Background()
	alice := mustRegister(t, gw, "alice")
	bob := mustRegister(t, gw, "bob")
	carol := mustRegister(t, gw, "carol")

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	save := func(from, to *models.User, content string, offset time.Duration) {
		t.Helper()
		if err := gw.SaveMessage(ctx, &models.Message{Sender: from, Receiver: to, Content: content, Timestamp: base.Add(offset)}); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	save(bob, alice, "second", 2*time.Minute)
	save(alice, bob, "first", time.Minute)
	save(alice, carol, "other pair", 90*time.Second)
	save(carol, bob, "other pair too", 3*time.Minute)
	save(alice, bob, "third", 4*time.Minute)

	history, err := gw.PrivateMessages(ctx, alice.ID, bob.ID, 100)
	if err != nil {
		t.Fatalf("PrivateMessages failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(history) != len(want) {
		t.Fatalf("Expected %d messages, got %d: %+v", len(want), len(history), history)
	}
	for i := range want {
		if history[i].Content != want[i] {
			t.Errorf("Message %d: expected %q, got %q", i, want[i], history[i].Content)
		}
		if i > 0 && history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Errorf("History not in timestamp order at %d", i)
		}
		if history[i].Receiver == nil {
			t.Errorf("Message %d has no receiver", i)
		}
	}

	limited, err := gw.PrivateMessages(ctx, bob.ID, alice.ID, 2)
	if err != nil {
		t.Fatalf("PrivateMessages failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "second" || limited[1].Content != "third" {
		t.Errorf("Expected the two newest messages oldest first, got %+v", limited)
	}
}

func testSaveRejectsUnresolved(t *testing.T, gw Gateway) {
	ctx := context.Background()
	alice := mustRegister(t, gw, "alice")

	bad := []*models.Message{
		{Content: "system"},
		{Sender: &models.User{Username: "alice"}, Content: "no id"},
		{Sender: alice, Receiver: &models.User{Username: "ghost"}, Content: "unresolved"},
	}
	for _, msg := range bad {
		if err := gw.SaveMessage(ctx, msg); err == nil {
			t.Errorf("SaveMessage(%+v) should fail", msg)
		}
	}

	recent, err := gw.RecentPublicMessages(ctx, 10)
	if err != nil {
		t.Fatalf("RecentPublicMessages failed: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("Expected no stored messages, got %+v", recent)
	}
}

func testSeed(t *testing.T, gw Gateway) {
	ctx := context.Background()

	n, err := Seed(ctx, gw)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 seeded users, got %d", n)
	}
	if u, _ := gw.Authenticate(ctx, "admin", "admin"); u == nil {
		t.Error("Expected admin/admin to authenticate")
	}

	n, err = Seed(ctx, gw)
	if err != nil || n != 0 {
		t.Errorf("Second seed should be a no-op, got %d, %v", n, err)
	}

	found, err := FindUser(ctx, gw, "user")
	if err != nil || found == nil || found.Username != "user" {
		t.Errorf("FindUser(user) = %+v, %v", found, err)
	}
	missing, err := FindUser(ctx, gw, "ghost")
	if err != nil || missing != nil {
		t.Errorf("FindUser(ghost) = %+v, %v", missing, err)
	}
}

func TestBcryptHasherLongPasswords(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	long := strings.Repeat("x", 100)
	sameFirst72 := strings.Repeat("x", 72) + strings.Repeat("y", 28)

	stored, err := h.Hash(long)
	if err != nil {
		t.Fatalf("Hash of a 100 byte password failed: %v", err)
	}
	if !h.Compare(stored, long) {
		t.Error("Long password should authenticate")
	}
	if h.Compare(stored, sameFirst72) {
		t.Error("Passwords differing after byte 72 must not match")
	}

	exact := strings.Repeat("z", 72)
	stored, err = h.Hash(exact)
	if err != nil {
		t.Fatalf("Hash of a 72 byte password failed: %v", err)
	}
	if !h.Compare(stored, exact) {
		t.Error("72 byte password should authenticate")
	}
}

func TestRegisterLongPassword(t *testing.T) {
	gw := setupSQLite(t)
	ctx := context.Background()
	password := strings.Repeat("p", 73)

	user, err := gw.Register(ctx, "alice", password)
	if err != nil || user == nil {
		t.Fatalf("Register with a 73 byte password failed: %v", err)
	}
	got, err := gw.Authenticate(ctx, "alice", password)
	if err != nil || got == nil || got.ID != user.ID {
		t.Errorf("Authenticate with the long password failed: %+v, %v", got, err)
	}
}

func TestPlainHasherIsExactMatch(t *testing.T) {
	h := PlainHasher{}
	stored, _ := h.Hash("pw1")
	if stored != "pw1" {
		t.Errorf("Expected verbatim storage, got %q", stored)
	}
	if !h.Compare(stored, "pw1") || h.Compare(stored, "pw1 ") || h.Compare(stored, "PW1") {
		t.Error("PlainHasher must authenticate on exact equality only")
	}
}

func TestNewHasher(t *testing.T) {
	if h, err := NewHasher("bcrypt"); err != nil || h == nil {
		t.Errorf("bcrypt: %v", err)
	}
	if h, err := NewHasher("plain"); err != nil || h != (PlainHasher{}) {
		t.Errorf("plain: %v", err)
	}
	if _, err := NewHasher("md5"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func mustRegister(t *testing.T, gw Gateway, username string) *models.User {
	t.Helper()
	u, err := gw.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return u
}
