package moderation

import (
	"context"
	"errors"
	"log"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/store"
)

var (
	ErrReportNotFound    = errors.New("report not found")
	ErrOrphanedReport    = errors.New("report target has no resolvable community")
	ErrNotAuthorized     = errors.New("not authorized to moderate this community")
	ErrInvalidStatus     = errors.New("invalid report status")
	ErrInvalidAction     = errors.New("invalid moderation action")
	ErrInvalidTarget     = errors.New("exactly one of post_id or comment_id is required")
	ErrReasonTooShort    = errors.New("a reason of at least 3 characters is required")
	ErrTargetNotFound    = errors.New("report target not found")
	ErrCommunityNotFound = errors.New("community not found")
)

// Gate authorizes and applies moderation operations, writing an audit row for
// every action.
type Gate struct {
	store store.Store
}

func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// CanModerate reports whether the principal may moderate communityID: global
// admins always, otherwise a moderator or admin membership in that community.
func (g *Gate) CanModerate(ctx context.Context, principal *auth.Principal, communityID string) (bool, error) {
	if principal.IsAdmin {
		return true, nil
	}

	role, err := g.store.GetMemberRole(ctx, communityID, principal.ID)
	if err != nil {
		return false, err
	}
	return role == store.RoleModerator || role == store.RoleAdmin, nil
}

// FileReport records a report against a post or comment by any principal.
func (g *Gate) FileReport(ctx context.Context, reporterID string, target store.Target, reason string) (*store.Report, error) {
	if len(reason) < 3 {
		return nil, ErrReasonTooShort
	}

	if _, err := g.communityForTarget(ctx, target); err != nil {
		return nil, err
	}

	report := &store.Report{
		ReporterID: reporterID,
		Target:     target,
		Reason:     reason,
		Status:     store.ReportPending,
	}

	if err := g.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	return report, nil
}

// ListReports returns reports filtered by status. Global admins see every
// report; community moderators see only reports whose target lives in a
// community they moderate. Everyone else is rejected.
func (g *Gate) ListReports(ctx context.Context, principal *auth.Principal, status string) ([]*store.Report, error) {
	if status != "" && status != store.ReportPending && status != store.ReportReviewed && status != store.ReportDismissed {
		return nil, ErrInvalidStatus
	}

	reports, err := g.store.ListReports(ctx, status)
	if err != nil {
		return nil, err
	}
	if principal.IsAdmin {
		return reports, nil
	}

	communityIDs, err := g.store.ListModeratedCommunities(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if len(communityIDs) == 0 {
		return nil, ErrNotAuthorized
	}

	moderated := make(map[string]bool, len(communityIDs))
	for _, id := range communityIDs {
		moderated[id] = true
	}

	scoped := make([]*store.Report, 0, len(reports))
	for _, report := range reports {
		communityID, err := g.communityForTarget(ctx, report.Target)
		if err != nil {
			if errors.Is(err, ErrTargetNotFound) {
				continue
			}
			return nil, err
		}
		if moderated[communityID] {
			scoped = append(scoped, report)
		}
	}
	return scoped, nil
}

// ResolveReport marks a report reviewed or dismissed. Only a moderator/admin
// of the target's community or a global admin may resolve it. Resolution does
// not remove the reported content; that is RemoveContent's job.
func (g *Gate) ResolveReport(ctx context.Context, principal *auth.Principal, reportID, status string) (*store.Report, error) {
	if status != store.ReportReviewed && status != store.ReportDismissed {
		return nil, ErrInvalidStatus
	}

	report, err := g.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrReportNotFound
	}

	communityID, err := g.communityForTarget(ctx, report.Target)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			return nil, ErrOrphanedReport
		}
		return nil, err
	}

	allowed, err := g.CanModerate(ctx, principal, communityID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}

	if err := g.store.SetReportStatus(ctx, reportID, status); err != nil {
		return nil, err
	}

	report.Status = status
	return report, nil
}

// RemoveContent soft-deletes a post or comment in communityID and appends an
// audit row. The audit row is written even when the target is already removed,
// so the mod log records the attempt.
func (g *Gate) RemoveContent(ctx context.Context, principal *auth.Principal, communityID, actionType string, target store.Target, reason string) (*store.ModAction, error) {
	community, err := g.store.GetCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if community == nil {
		return nil, ErrCommunityNotFound
	}

	allowed, err := g.CanModerate(ctx, principal, communityID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}

	switch {
	case actionType == store.ActionRemovePost && target.Kind == store.TargetPost:
		post, err := g.store.GetPost(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		// Only a published post is removed and counted; a repeat removal
		// still gets its audit row below.
		if post != nil && post.Status == store.StatusPublished {
			if err := g.store.SetPostStatus(ctx, target.ID, store.StatusRemoved); err != nil {
				log.Printf("Moderation: failed to remove post %s: %v", target.ID, err)
			} else if err := g.store.UpdateCommunityPostCount(ctx, post.CommunityID, -1); err != nil {
				log.Printf("Moderation: failed to update post count for community %s: %v", post.CommunityID, err)
			}
		}
	case actionType == store.ActionRemoveComment && target.Kind == store.TargetComment:
		if err := g.store.SetCommentStatus(ctx, target.ID, store.StatusRemoved); err != nil {
			log.Printf("Moderation: failed to remove comment %s: %v", target.ID, err)
		}
	default:
		return nil, ErrInvalidAction
	}

	action := &store.ModAction{
		CommunityID: communityID,
		ModeratorID: principal.ID,
		Target:      target,
		ActionType:  actionType,
		Reason:      reason,
	}

	if err := g.store.CreateModAction(ctx, action); err != nil {
		return nil, err
	}

	return action, nil
}

// communityForTarget follows post -> community or comment -> post -> community.
func (g *Gate) communityForTarget(ctx context.Context, target store.Target) (string, error) {
	switch target.Kind {
	case store.TargetPost:
		post, err := g.store.GetPost(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if post == nil {
			return "", ErrTargetNotFound
		}
		return post.CommunityID, nil
	case store.TargetComment:
		comment, err := g.store.GetComment(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if comment == nil {
			return "", ErrTargetNotFound
		}
		post, err := g.store.GetPost(ctx, comment.PostID)
		if err != nil {
			return "", err
		}
		if post == nil {
			return "", ErrTargetNotFound
		}
		return post.CommunityID, nil
	default:
		return "", ErrInvalidTarget
	}
}
