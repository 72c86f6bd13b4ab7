package main

import (
	"testing"
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestMapPermissions_UserRole(t *testing.T) {
	perms := mapPermissions([]string{"user"}, "u-123")

	if !contains(perms.Pub.Allow, "conn.connect") {
		t.Error("Expected user to publish conn.connect")
	}
	if !contains(perms.Pub.Allow, "chat.create") {
		t.Error("Expected user to publish chat.create")
	}
	if !contains(perms.Pub.Allow, "chat.invite.reply") {
		t.Error("Expected user to publish chat.invite.reply")
	}
	if !contains(perms.Pub.Allow, "message.delete") {
		t.Error("Expected user to publish message.delete")
	}
	if contains(perms.Pub.Allow, "admin.>") {
		t.Error("Regular user must not have admin publish permission")
	}
}

func TestMapPermissions_DeliverScope(t *testing.T) {
	perms := mapPermissions([]string{"user"}, "u-123")

	if !contains(perms.Sub.Allow, "deliver.u-123.>") {
		t.Errorf("Expected subscribe scope deliver.u-123.>, got %v", perms.Sub.Allow)
	}
	if contains(perms.Sub.Allow, "deliver.>") {
		t.Error("User must not subscribe to other users' deliveries")
	}
}

func TestMapPermissions_AdminRole(t *testing.T) {
	perms := mapPermissions([]string{"admin"}, "u-admin")

	if !contains(perms.Pub.Allow, "admin.>") {
		t.Error("Expected admin publish permission")
	}
	if !contains(perms.Pub.Allow, "group.invite") {
		t.Error("Expected admin to keep regular user subjects")
	}
	if !contains(perms.Sub.Allow, "deliver.u-admin.>") {
		t.Error("Expected admin deliver scope")
	}
}

func TestMapPermissions_NoRole(t *testing.T) {
	perms := mapPermissions(nil, "u-guest")

	if contains(perms.Pub.Allow, "chat.create") {
		t.Error("Unrecognized role must not create chats")
	}
	if contains(perms.Pub.Allow, "message.create") {
		t.Error("Unrecognized role must not create messages")
	}
	if !contains(perms.Pub.Allow, "conn.connect") {
		t.Error("Unrecognized role should still connect for presence")
	}
	if !contains(perms.Sub.Allow, "deliver.u-guest.>") {
		t.Error("Unrecognized role should still receive own deliveries")
	}
}

func TestMapPermissions_ResponsePermission(t *testing.T) {
	perms := mapPermissions([]string{"user"}, "u-123")
	if perms.Resp == nil {
		t.Fatal("Expected response permission for request/reply")
	}
	if perms.Resp.MaxMsgs != 1 {
		t.Errorf("Expected MaxMsgs 1, got %d", perms.Resp.MaxMsgs)
	}
}

func TestServicePermissions(t *testing.T) {
	perms := servicePermissions()

	if !contains(perms.Pub.Allow, ">") {
		t.Error("Expected service account full publish access")
	}
	if !contains(perms.Sub.Allow, ">") {
		t.Error("Expected service account full subscribe access")
	}
	if perms.Resp == nil || perms.Resp.MaxMsgs != -1 {
		t.Error("Expected unlimited response permission for services")
	}
}
