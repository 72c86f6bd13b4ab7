package main

import "errors"

// Request payloads for the domain operation subjects. Each validates itself
// before any store or handshake call; invalid requests answer an error JSON
// without side effects.

type createChatRequest struct {
	FromUserId   string `json:"fromUserId"`
	ToUserId     string `json:"toUserId"`
	FromUserName string `json:"fromUserName"`
}

func (r createChatRequest) validate() error {
	if r.FromUserId == "" || r.ToUserId == "" {
		return errors.New("fromUserId and toUserId are required")
	}
	if r.FromUserId == r.ToUserId {
		return errors.New("cannot open a chat with yourself")
	}
	return nil
}

type listChatsRequest struct {
	UserId string `json:"userId"`
}

func (r listChatsRequest) validate() error {
	if r.UserId == "" {
		return errors.New("userId is required")
	}
	return nil
}

type deleteChatRequest struct {
	ChatId int64 `json:"chatId"`
}

func (r deleteChatRequest) validate() error {
	if r.ChatId <= 0 {
		return errors.New("chatId is required")
	}
	return nil
}

type createGroupRequest struct {
	Name      string `json:"name"`
	CreatorId string `json:"creatorId"`
}

func (r createGroupRequest) validate() error {
	if r.Name == "" || r.CreatorId == "" {
		return errors.New("name and creatorId are required")
	}
	return nil
}

type listGroupsRequest struct {
	UserId string `json:"userId"`
}

func (r listGroupsRequest) validate() error {
	if r.UserId == "" {
		return errors.New("userId is required")
	}
	return nil
}

type updateGroupRequest struct {
	GroupId   int64  `json:"groupId"`
	CreatorId string `json:"creatorId"`
	Name      string `json:"name"`
}

func (r updateGroupRequest) validate() error {
	if r.GroupId <= 0 || r.CreatorId == "" {
		return errors.New("groupId and creatorId are required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type deleteGroupRequest struct {
	GroupId   int64  `json:"groupId"`
	CreatorId string `json:"creatorId"`
}

func (r deleteGroupRequest) validate() error {
	if r.GroupId <= 0 || r.CreatorId == "" {
		return errors.New("groupId and creatorId are required")
	}
	return nil
}

type inviteToGroupRequest struct {
	GroupId          int64  `json:"groupId"`
	GroupName        string `json:"groupName"`
	CreatorId        string `json:"creatorId"`
	NewParticipantId string `json:"newParticipantId"`
}

func (r inviteToGroupRequest) validate() error {
	if r.GroupId <= 0 || r.CreatorId == "" || r.NewParticipantId == "" {
		return errors.New("groupId, creatorId and newParticipantId are required")
	}
	if r.GroupName == "" {
		return errors.New("groupName is required")
	}
	if r.CreatorId == r.NewParticipantId {
		return errors.New("creator is already a participant")
	}
	return nil
}

type removeParticipantRequest struct {
	GroupId       int64  `json:"groupId"`
	CreatorId     string `json:"creatorId"`
	ParticipantId string `json:"participantId"`
}

func (r removeParticipantRequest) validate() error {
	if r.GroupId <= 0 || r.CreatorId == "" || r.ParticipantId == "" {
		return errors.New("groupId, creatorId and participantId are required")
	}
	return nil
}

type createMessageRequest struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
	ChatId   int64  `json:"chatId,omitempty"`
	GroupId  int64  `json:"groupId,omitempty"`
	Text     string `json:"text"`
}

func (r createMessageRequest) validate() error {
	if r.UserId == "" {
		return errors.New("userId is required")
	}
	if r.Text == "" {
		return errors.New("text must have at least 1 character")
	}
	if r.ChatId <= 0 && r.GroupId <= 0 {
		return errors.New("at least a chatId or a groupId must be provided")
	}
	if r.ChatId > 0 && r.GroupId > 0 {
		return errors.New("a message belongs to a chat or a group, not both")
	}
	return nil
}

type listMessagesRequest struct {
	Belonger      string `json:"belonger"`
	ChatOrGroupId int64  `json:"chatOrGroupId"`
	Skip          int    `json:"skip"`
	Take          int    `json:"take"`
}

func (r listMessagesRequest) validate() error {
	if r.Belonger != "chat" && r.Belonger != "group" {
		return errors.New("belonger must be chat or group")
	}
	if r.ChatOrGroupId <= 0 {
		return errors.New("chatOrGroupId is required")
	}
	if r.Skip < 0 || r.Take < 0 {
		return errors.New("skip and take must not be negative")
	}
	return nil
}

type updateMessageRequest struct {
	MessageId int64  `json:"messageId"`
	UserId    string `json:"userId"`
	Text      string `json:"text"`
}

func (r updateMessageRequest) validate() error {
	if r.MessageId <= 0 || r.UserId == "" {
		return errors.New("messageId and userId are required")
	}
	if r.Text == "" {
		return errors.New("text must have at least 1 character")
	}
	return nil
}

type deleteMessageRequest struct {
	MessageId int64  `json:"messageId"`
	UserId    string `json:"userId"`
}

func (r deleteMessageRequest) validate() error {
	if r.MessageId <= 0 || r.UserId == "" {
		return errors.New("messageId and userId are required")
	}
	return nil
}
