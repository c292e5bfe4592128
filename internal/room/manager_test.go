package room

import (
	"sync"
	"testing"
)

type recordingSubscriber struct {
	mu  sync.Mutex
	got []Notification
}

func (s *recordingSubscriber) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestManager(t *testing.T) {
	t.Run("broadcast reaches room members except the sender", func(t *testing.T) {
		m := NewManager()
		a, b, c := &recordingSubscriber{}, &recordingSubscriber{}, &recordingSubscriber{}
		m.Join("doc-1", "conn-a", a)
		m.Join("doc-1", "conn-b", b)
		m.Join("doc-2", "conn-c", c)

		m.Broadcast("doc-1", Notification{Type: NotificationType, DocumentID: "doc-1", NewVersion: 2}, "conn-a")

		if a.count() != 0 {
			t.Errorf("sender received its own broadcast")
		}
		if b.count() != 1 {
			t.Errorf("expected 1 notification for conn-b, got %d", b.count())
		}
		if c.count() != 0 {
			t.Errorf("other room received the broadcast")
		}
	})

	t.Run("leave stops delivery", func(t *testing.T) {
		m := NewManager()
		a := &recordingSubscriber{}
		m.Join("doc-1", "conn-a", a)
		m.Leave("doc-1", "conn-a")

		m.Broadcast("doc-1", Notification{DocumentID: "doc-1"}, "")
		if a.count() != 0 {
			t.Errorf("expected no delivery after leave, got %d", a.count())
		}
		if m.RoomSize("doc-1") != 0 {
			t.Errorf("expected empty room, got %d", m.RoomSize("doc-1"))
		}
	})

	t.Run("leave all removes the connection from every room", func(t *testing.T) {
		m := NewManager()
		a := &recordingSubscriber{}
		m.Join("doc-1", "conn-a", a)
		m.Join("doc-2", "conn-a", a)
		m.LeaveAll("conn-a")

		if m.RoomSize("doc-1") != 0 || m.RoomSize("doc-2") != 0 {
			t.Error("expected connection removed from all rooms")
		}
	})

	t.Run("rejoin replaces the subscriber", func(t *testing.T) {
		m := NewManager()
		old, fresh := &recordingSubscriber{}, &recordingSubscriber{}
		m.Join("doc-1", "conn-a", old)
		m.Join("doc-1", "conn-a", fresh)

		if m.RoomSize("doc-1") != 1 {
			t.Fatalf("expected room size 1, got %d", m.RoomSize("doc-1"))
		}
		m.Broadcast("doc-1", Notification{DocumentID: "doc-1"}, "")
		if old.count() != 0 || fresh.count() != 1 {
			t.Errorf("expected only the fresh subscriber to hear, got old=%d fresh=%d", old.count(), fresh.count())
		}
	})

	t.Run("concurrent joins and broadcasts", func(t *testing.T) {
		m := NewManager()
		var wg sync.WaitGroup
		subs := make([]*recordingSubscriber, 50)
		for i := range subs {
			subs[i] = &recordingSubscriber{}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m.Join("doc-1", string(rune('a'+i)), subs[i])
			}(i)
		}
		wg.Wait()

		if m.RoomSize("doc-1") != 50 {
			t.Fatalf("expected 50 members, got %d", m.RoomSize("doc-1"))
		}

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Broadcast("doc-1", Notification{DocumentID: "doc-1"}, "")
			}()
		}
		wg.Wait()

		for i, s := range subs {
			if s.count() != 10 {
				t.Errorf("subscriber %d got %d notifications, want 10", i, s.count())
			}
		}
	})
}
