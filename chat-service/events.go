package main

// ChatSolicitRequest asks the gateway to run a direct chat invitation.
type ChatSolicitRequest struct {
	TargetUserId    string `json:"targetUserId"`
	RequesterUserId string `json:"requesterUserId"`
	RequesterName   string `json:"requesterName"`
}

// GroupSolicitRequest asks the gateway to run a group invitation.
type GroupSolicitRequest struct {
	TargetUserId string `json:"targetUserId"`
	CreatorId    string `json:"creatorId"`
	GroupName    string `json:"groupName"`
}
