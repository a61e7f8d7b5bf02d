package api

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/lifecycle"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

type CreateGroupRequest struct {
	Name        string              `json:"name" validate:"required,max=100"`
	Description string              `json:"description" validate:"max=500"`
	ExpiryDate  time.Time           `json:"expiry_date" validate:"required"`
	Settings    types.GroupSettings `json:"settings"`
	MemberIds   []int               `json:"member_ids" validate:"dive,gt=0"`
}

type ExtendGroupRequest struct {
	Hours int `json:"hours" validate:"gt=0"`
}

type InviteRequest struct {
	InviteeId int `json:"invitee_id" validate:"gt=0"`
}

type RespondInviteRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

type MarkReadRequest struct {
	Ids []int `json:"ids" validate:"required,min=1"`
}

func (s *GoChatApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	groups, err := s.db.ListUserGroups(r.Context(), userId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if groups == nil {
		groups = []types.Group{}
	}

	s.writeJson(w, http.StatusOK, groups)
}

func (s *GoChatApp) createGroup(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req CreateGroupRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	g, err := s.groups.CreateGroup(r.Context(), userId, lifecycle.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		ExpiryDate:  req.ExpiryDate,
		Settings:    req.Settings,
		MemberIds:   req.MemberIds,
	})
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusCreated, g)
}

func (s *GoChatApp) getGroup(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	groupId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	g, err := s.db.GetGroup(r.Context(), groupId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if !g.IsMember(userId) {
		s.writeError(w, NewForbiddenError("not a member of this group"))
		return
	}

	s.writeJson(w, http.StatusOK, g)
}

func (s *GoChatApp) extendGroup(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	groupId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req ExtendGroupRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	g, err := s.groups.Extend(r.Context(), groupId, userId, req.Hours)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusOK, g)
}

func (s *GoChatApp) leaveGroup(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	groupId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.groups.Leave(r.Context(), groupId, userId); err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) removeMember(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	groupId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	memberId, errResp := pathInt(r, "userId")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.groups.RemoveMember(r.Context(), groupId, userId, memberId); err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) inviteToGroup(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	groupId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req InviteRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	inv, err := s.groups.Invite(r.Context(), groupId, userId, req.InviteeId)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusCreated, inv)
}

func (s *GoChatApp) respondInvite(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	inviteId, errResp := pathInt(r, "id")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req RespondInviteRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	inv, err := s.groups.RespondInvite(r.Context(), inviteId, userId, *req.Accept)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusOK, inv)
}

func (s *GoChatApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	limit, errResp := queryInt(r, "limit")
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	notes, err := s.cs.Notifier().List(r.Context(), userId, limit)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}
	if notes == nil {
		notes = []types.Notification{}
	}

	s.writeJson(w, http.StatusOK, notes)
}

func (s *GoChatApp) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req MarkReadRequest
	if errResp := s.decode(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	n, err := s.cs.Notifier().MarkRead(r.Context(), userId, req.Ids)
	if err != nil {
		s.writeError(w, errorFromDomain(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int{"updated": n})
}

// runSweep runs one expiry sweep synchronously.
func (s *GoChatApp) runSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.groups.Sweep(r.Context(), protocol.Now())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.log.Info("manual sweep", "result", res.String())
	s.writeJson(w, http.StatusOK, res)
}
