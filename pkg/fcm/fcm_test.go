package fcm

import "testing"

func TestBuildMulticast(t *testing.T) {
	msg := buildMulticast([]string{"t1", "t2"}, NotificationData{
		Title:       "Interview scheduled",
		Body:        "Acme moved Backend Engineer to interview",
		Data:        map[string]string{"type": "status_change"},
		ClickAction: "/applications",
	})

	if len(msg.Tokens) != 2 {
		t.Fatalf("tokens = %v", msg.Tokens)
	}
	if msg.Notification.Title != "Interview scheduled" || msg.Webpush.Notification.Body != "Acme moved Backend Engineer to interview" {
		t.Fatalf("unexpected notification: %+v", msg.Notification)
	}
	if msg.Webpush.FCMOptions == nil || msg.Webpush.FCMOptions.Link != "/applications" {
		t.Fatalf("click action not set: %+v", msg.Webpush.FCMOptions)
	}
	if msg.Data["type"] != "status_change" {
		t.Fatalf("data = %v", msg.Data)
	}

	if plain := buildMulticast([]string{"t1"}, NotificationData{Title: "x"}); plain.Webpush.FCMOptions != nil {
		t.Fatalf("FCMOptions set without click action")
	}
}
