package main

import (
	"fmt"

	"github.com/nats-io/jwt/v2"
)

// mapPermissions converts Keycloak realm roles into NATS permissions.
// userId scopes the deliver.{userId}.> subscription so a client can only
// receive pushes addressed to its own connections.
func mapPermissions(roles []string, userId string) jwt.Permissions {
	perms := jwt.Permissions{
		Pub: jwt.Permission{},
		Sub: jwt.Permission{},
	}

	roleSet := make(map[string]bool)
	for _, r := range roles {
		roleSet[r] = true
	}

	deliverSubject := fmt.Sprintf("deliver.%s.>", userId)

	userSubjects := jwt.StringList{
		"conn.connect",
		"conn.heartbeat",
		"conn.disconnect",
		"chat.invite.reply",
		"group.invite.reply",
		"chat.create",
		"chat.list",
		"chat.delete",
		"group.create",
		"group.list",
		"group.update",
		"group.delete",
		"group.invite",
		"group.participant.remove",
		"message.create",
		"message.list",
		"message.update",
		"message.delete",
		"_INBOX.>",
	}

	if roleSet["admin"] {
		perms.Pub.Allow = append(jwt.StringList{"admin.>"}, userSubjects...)
		perms.Sub.Allow = jwt.StringList{
			deliverSubject,
			"_INBOX.>",
		}
	} else if roleSet["user"] {
		perms.Pub.Allow = userSubjects
		perms.Sub.Allow = jwt.StringList{
			deliverSubject,
			"_INBOX.>",
		}
	} else {
		// No recognized role: presence and read-only listing, no mutations
		perms.Pub.Allow = jwt.StringList{
			"conn.connect",
			"conn.heartbeat",
			"conn.disconnect",
			"chat.list",
			"group.list",
			"message.list",
			"_INBOX.>",
		}
		perms.Sub.Allow = jwt.StringList{
			deliverSubject,
			"_INBOX.>",
		}
	}

	perms.Resp = &jwt.ResponsePermission{
		MaxMsgs: 1,
		Expires: 5 * 60 * 1000000000, // 5 minutes in nanoseconds
	}

	return perms
}

// servicePermissions returns broad permissions for backend service accounts.
// All services run in the CHAT account and need full pub/sub access.
func servicePermissions() jwt.Permissions {
	return jwt.Permissions{
		Pub: jwt.Permission{Allow: jwt.StringList{">"}},
		Sub: jwt.Permission{Allow: jwt.StringList{">"}},
		Resp: &jwt.ResponsePermission{
			MaxMsgs: -1,
			Expires: 5 * 60 * 1000000000, // 5 minutes in nanoseconds
		},
	}
}
