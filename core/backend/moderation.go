package backend

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/csql"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

func (b *Backend) handleModeration(router *mux.Router) {
	logger.Default().Debugln("moderation")
	logger.Default().Debugln("  handle moderation route: /api/moderation/reports POST")
	router.HandleFunc("/reports", b.createReport).Methods(http.MethodPost)

	moderator := router.NewRoute().Subrouter()
	moderator.Use(access.RequireModerator())
	logger.Default().Debugln("  handle moderation route: /api/moderation/queue GET")
	moderator.HandleFunc("/queue", b.moderationQueue).Methods(http.MethodGet)
	logger.Default().Debugln("  handle moderation route: /api/moderation/actions POST")
	moderator.HandleFunc("/actions", b.createModerationAction).Methods(http.MethodPost)
}

func (b *Backend) createReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReportType     store.ReportType `json:"reportType"`
		ReportedUserID *uuid.UUID       `json:"reportedUserId"`
		MessageID      *uuid.UUID       `json:"messageId"`
		PostID         *uuid.UUID       `json:"postId"`
		ThreadID       *uuid.UUID       `json:"threadId"`
		GroupID        *uuid.UUID       `json:"groupId"`
		Reason         string           `json:"reason"`
	}
	if !b.decodeBody(w, r, "report-create", &body) {
		return
	}
	report, err := b.store.CreateReport(r.Context(), store.NewReport{
		ReporterID:     caller(r).UserID,
		ReportType:     body.ReportType,
		ReportedUserID: body.ReportedUserID,
		MessageID:      body.MessageID,
		PostID:         body.PostID,
		ThreadID:       body.ThreadID,
		GroupID:        body.GroupID,
		Reason:         body.Reason,
	})
	if err != nil {
		if csql.IsForeignKeyViolation(err) {
			envelope.Error(w, http.StatusNotFound, "Reported content not found")
			return
		}
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4751: cannot create report")
		envelope.Error(w, http.StatusInternalServerError, "Failed to create report")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"report": report})
}

func (b *Backend) moderationQueue(w http.ResponseWriter, r *http.Request) {
	reports, err := b.store.ListPendingReports(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4752: cannot list reports")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch reports")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

func (b *Backend) createModerationAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReportID     *uuid.UUID       `json:"reportId"`
		TargetUserID uuid.UUID        `json:"targetUserId"`
		ActionType   store.ActionType `json:"actionType"`
		Reason       string           `json:"reason"`
		DurationDays *int             `json:"durationDays"`
	}
	if !b.decodeBody(w, r, "action-create", &body) {
		return
	}
	action, err := b.store.CreateModerationAction(r.Context(), store.NewModerationAction{
		ModeratorID:  caller(r).UserID,
		TargetUserID: body.TargetUserID,
		ActionType:   body.ActionType,
		ReportID:     body.ReportID,
		Reason:       body.Reason,
		DurationDays: body.DurationDays,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || csql.IsForeignKeyViolation(err) {
			envelope.Error(w, http.StatusNotFound, "User or report not found")
			return
		}
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4753: cannot create moderation action")
		envelope.Error(w, http.StatusInternalServerError, "Failed to create moderation action")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"action": action})

	b.enqueue(r.Context(), jobs.Job{Type: jobs.TypeModerationNotice, Key: action.ID.String()}.WithPayload(jobs.ModerationNoticePayload{
		ActionID:     action.ID,
		TargetUserID: action.TargetUserID,
		ActionType:   action.ActionType,
		Reason:       action.Reason,
		DurationDays: action.DurationDays,
	}))
	b.publish(r.Context(), events.TypeModerationAction, action.TargetUserID.String(), action)
}
