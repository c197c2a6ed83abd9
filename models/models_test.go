package models

import "testing"

func TestMessageKind(t *testing.T) {
	alice := &User{ID: 1, Username: "alice"}
	bob := &User{ID: 2, Username: "bob"}

	tests := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"system", Message{Content: "USER_LIST:"}, KindSystem},
		{"system with receiver", Message{Receiver: bob}, KindSystem},
		{"public", Message{Sender: alice, Content: "hi"}, KindPublic},
		{"private", Message{Sender: alice, Receiver: bob, Content: "hey"}, KindPrivate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublicDropsPassword(t *testing.T) {
	u := &User{ID: 7, Username: "alice", Password: "secret"}
	p := u.Public()
	if p.Password != "" {
		t.Errorf("Expected empty password, got %q", p.Password)
	}
	if p.ID != 7 || p.Username != "alice" {
		t.Errorf("Unexpected public user: %+v", p)
	}
	if u.Password != "secret" {
		t.Error("Public must not modify the receiver")
	}

	var nilUser *User
	if nilUser.Public() != nil {
		t.Error("Expected nil for nil user")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := &Message{Sender: &User{ID: 1, Username: "alice"}, Receiver: &User{Username: "bob"}, Content: "x"}
	c := m.Clone()
	c.Receiver.ID = 9
	c.Sender.Username = "mallory"
	if m.Receiver.ID != 0 || m.Sender.Username != "alice" {
		t.Errorf("Clone shares pointers with original: %+v", m)
	}
}
