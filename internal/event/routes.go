package event

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sapliy/notification-hub/internal/job"
)

// Type is a known event type. The routing table below is the closed set;
// anything else is acknowledged with zero jobs.
type Type string

const (
	TypeUserRegistrationCompleted Type = "user.registration.completed"
	TypeUserAccountCreated        Type = "user.account.created"
	TypeUserEmailVerified         Type = "user.email.verified"
	TypeUserPasswordResetRequest  Type = "user.password.reset.requested"
	TypeUserLoginSucceeded        Type = "user.login.succeeded"
	TypeUserLoginFailed           Type = "user.login.failed"
	TypeInvoicePaymentFailed      Type = "invoice.payment.failed"
	TypeTaskAssigned              Type = "task.assigned"
	TypeCommentMentioned          Type = "comment.mentioned"
	TypeContentLiked              Type = "content.liked"
	TypeApprovalRequested         Type = "approval.requested"
	TypeStatusChanged             Type = "status.changed"
	TypeDeadlineApproaching       Type = "deadline.approaching"
	TypeAccessGranted             Type = "access.granted"
	TypeTwoFactorCodeRequested    Type = "auth.2fa.code.requested"
	TypeTwoFactorAttemptFailed    Type = "auth.2fa.attempt.failed"
	TypeTwoFactorMethodChanged    Type = "auth.2fa.method.changed"
	TypeTwoFactorBackupCodeUsed   Type = "auth.2fa.backup_code.used"
	TypeCandidateShortlisted      Type = "candidate.shortlisted"
	TypeCandidateShortlistedGaps  Type = "candidate.shortlisted.gaps"
	TypeInterviewScheduled        Type = "interview.scheduled"
	TypeInterviewRescheduled      Type = "interview.rescheduled"
)

// payload is what a route builder extracts from an event: everything a
// channel job needs except the channel itself.
type payload struct {
	To       string
	Subject  string
	Template string
	Context  map[string]any
	UserID   string
	UserName string
}

// route couples the channels an event type fans out to with its payload
// builder. Recruiting and collaboration events go to email and in-app;
// account, auth and billing events go to email only.
type route struct {
	Channels []job.Channel
	Build    func(e *Event) *payload
}

var emailOnly = []job.Channel{job.ChannelEmail}
var emailAndInApp = []job.Channel{job.ChannelEmail, job.ChannelInApp}

var routes = map[Type]route{
	TypeUserRegistrationCompleted: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Welcome to Our Platform!",
			Template: "welcome-email",
			Context: map[string]any{
				"user_name": e.Data["user_name"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeUserAccountCreated: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Your Account Has Been Created",
			Template: "user-account-created",
			Context: map[string]any{
				"user_name":     e.Data["user_name"],
				"temp_password": e.Data["temp_password"],
				"login_link":    e.Data["login_link"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeUserEmailVerified: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Your email has been verified!",
			Template: "user-email-verified",
			Context: map[string]any{
				"user_id":    e.Data["user_id"],
				"user_email": e.Data["user_email"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeUserPasswordResetRequest: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Password Reset Request",
			Template: "password-reset",
			Context: map[string]any{
				"user_name":   e.Data["user_name"],
				"reset_link":  e.Data["reset_link"],
				"expiry_time": "1 hour",
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeUserLoginSucceeded: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Login Successful",
			Template: "login-succeeded",
			Context: map[string]any{
				"ip_address": e.Data["ip_address"],
				"user_agent": e.Data["user_agent"],
				"timestamp":  e.Data["timestamp"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeUserLoginFailed: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Login Failed",
			Template: "login-failed",
			Context: map[string]any{
				"ip_address": e.Data["ip_address"],
				"user_agent": e.Data["user_agent"],
				"reason":     e.Data["reason"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeInvoicePaymentFailed: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Payment Failed",
			Template: "payment-failed",
			Context: map[string]any{
				"user_name":  e.Data["user_name"],
				"invoice_id": e.Data["invoice_id"],
				"amount":     e.Data["invoice_amount"],
				"retry_link": e.Data["retry_link"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeTaskAssigned: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("assigned_to_email"),
			Subject:  "New Task Assigned",
			Template: "task-assigned",
			Context: map[string]any{
				"user_name":     e.Data["assigned_to_name"],
				"task_name":     e.Data["task_name"],
				"assigner_name": e.Data["assigner_name"],
				"due_date":      e.Data["due_date"],
			},
			UserID:   e.str("assigned_to_user_id"),
			UserName: e.str("assigned_to_name"),
		}
	}},
	TypeCommentMentioned: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("mentioned_user_email"),
			Subject:  "You were mentioned in a comment",
			Template: "comment-mentioned",
			Context: map[string]any{
				"user_name":       e.Data["mentioned_user_name"],
				"author_name":     e.Data["author_name"],
				"comment_preview": preview(e.str("comment_text"), 100),
				"context_url":     e.Data["context_url"],
			},
			UserID:   e.str("mentioned_user_id"),
			UserName: e.str("mentioned_user_name"),
		}
	}},
	TypeContentLiked: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Someone liked your post!",
			Template: "content-liked",
			Context: map[string]any{
				"user_name":     e.Data["user_name"],
				"liker_name":    e.Data["liker_name"],
				"content_title": e.Data["content_title"],
				"content_url":   e.Data["content_url"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeApprovalRequested: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Your approval is required",
			Template: "approval-requested",
			Context: map[string]any{
				"user_name":      e.Data["user_name"],
				"item_name":      e.Data["item_name"],
				"item_url":       e.Data["item_url"],
				"requester_name": e.Data["requester_name"],
				"due_date":       e.Data["due_date"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeStatusChanged: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Status changed: " + e.str("status"),
			Template: "status-changed",
			Context: map[string]any{
				"user_name": e.Data["user_name"],
				"item_name": e.Data["item_name"],
				"status":    e.Data["status"],
				"item_url":  e.Data["item_url"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeDeadlineApproaching: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Deadline Approaching!",
			Template: "deadline-approaching",
			Context: map[string]any{
				"user_name": e.Data["user_name"],
				"task_name": e.Data["task_name"],
				"due_date":  e.Data["due_date"],
				"task_url":  e.Data["task_url"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeAccessGranted: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Access Granted!",
			Template: "access-granted",
			Context: map[string]any{
				"user_name":     e.Data["user_name"],
				"resource_name": e.Data["resource_name"],
				"resource_url":  e.Data["resource_url"],
				"granted_by":    e.Data["granted_by"],
			},
			UserID:   e.str("user_id"),
			UserName: e.str("user_name"),
		}
	}},
	TypeTwoFactorCodeRequested: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Your Two-Factor Authentication Code",
			Template: "2fa-code-requested",
			Context: map[string]any{
				"user_id":            e.Data["user_id"],
				"user_email":         e.Data["user_email"],
				"code":               e.Data["2fa_code"],
				"method":             e.Data["2fa_method"],
				"ip_address":         e.Data["ip_address"],
				"user_agent":         e.Data["user_agent"],
				"expires_in_seconds": e.Data["expires_in_seconds"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeTwoFactorAttemptFailed: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Failed Two-Factor Authentication Attempt",
			Template: "2fa-attempt-failed",
			Context: map[string]any{
				"user_id":    e.Data["user_id"],
				"user_email": e.Data["user_email"],
				"ip_address": e.Data["ip_address"],
				"timestamp":  e.Data["timestamp"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeTwoFactorMethodChanged: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Your Two-Factor Authentication Method Was Changed",
			Template: "2fa-method-changed",
			Context: map[string]any{
				"user_id":          e.Data["user_id"],
				"user_email":       e.Data["user_email"],
				"new_method":       e.Data["new_method"],
				"changed_by_admin": e.Data["changed_by_admin"],
				"timestamp":        e.Data["timestamp"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeTwoFactorBackupCodeUsed: {emailOnly, func(e *Event) *payload {
		return &payload{
			To:       e.str("user_email"),
			Subject:  "Backup Code Used for Account Access",
			Template: "2fa-backup-code-used",
			Context: map[string]any{
				"user_id":                e.Data["user_id"],
				"user_email":             e.Data["user_email"],
				"ip_address":             e.Data["ip_address"],
				"remaining_backup_codes": e.Data["remaining_backup_codes"],
				"timestamp":              e.Data["timestamp"],
			},
			UserID: e.str("user_id"),
		}
	}},
	TypeCandidateShortlisted: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("email"),
			Subject:  "Congratulations! You have been shortlisted",
			Template: "candidate-shortlisted",
			Context: map[string]any{
				"full_name":          e.Data["full_name"],
				"job_requisition_id": e.Data["job_requisition_id"],
				"score":              e.Data["score"],
				"screening_status":   e.Data["screening_status"],
				"employment_gaps":    e.Data["employment_gaps"],
				"document_type":      e.Data["document_type"],
				"application_id":     e.Data["application_id"],
				"status":             e.Data["status"],
			},
			// application id doubles as the user id for tracking
			UserID:   e.str("application_id"),
			UserName: e.str("full_name"),
		}
	}},
	TypeCandidateShortlistedGaps: {emailAndInApp, func(e *Event) *payload {
		gaps, _ := e.Data["employment_gaps"].([]any)
		return &payload{
			To:       e.str("email"),
			Subject:  "Congratulations! You have been shortlisted - Additional Information Required",
			Template: "candidate-shortlisted-gaps",
			Context: map[string]any{
				"full_name":          e.Data["full_name"],
				"job_requisition_id": e.Data["job_requisition_id"],
				"score":              e.Data["score"],
				"screening_status":   e.Data["screening_status"],
				"employment_gaps":    e.Data["employment_gaps"],
				"document_type":      e.Data["document_type"],
				"application_id":     e.Data["application_id"],
				"status":             e.Data["status"],
				"gaps_count":         len(gaps),
				"total_gap_duration": totalGapDuration(gaps),
			},
			UserID:   e.str("application_id"),
			UserName: e.str("full_name"),
		}
	}},
	TypeInterviewScheduled: {emailAndInApp, func(e *Event) *payload {
		return &payload{
			To:       e.str("email"),
			Subject:  "Interview Scheduled - Please Confirm Your Availability",
			Template: "interview-scheduled",
			Context:  interviewContext(e),
			UserID:   e.str("application_id"),
			UserName: e.str("full_name"),
		}
	}},
	TypeInterviewRescheduled: {emailAndInApp, func(e *Event) *payload {
		ctx := interviewContext(e)
		ctx["cancellation_reason"] = e.Data["cancellation_reason"]
		ctx["is_cancelled"] = e.str("status") == "cancelled"
		return &payload{
			To:       e.str("email"),
			Subject:  "Interview Rescheduled - New Date and Time",
			Template: "interview-rescheduled",
			Context:  ctx,
			UserID:   e.str("application_id"),
			UserName: e.str("full_name"),
		}
	}},
}

func interviewContext(e *Event) map[string]any {
	return map[string]any{
		"full_name":                 e.Data["full_name"],
		"job_requisition_id":        e.Data["job_requisition_id"],
		"application_id":            e.Data["application_id"],
		"status":                    e.Data["status"],
		"interview_start_date_time": e.Data["interview_start_date_time"],
		"interview_end_date_time":   e.Data["interview_end_date_time"],
		"meeting_mode":              e.Data["meeting_mode"],
		"meeting_link":              e.Data["meeting_link"],
		"interview_address":         e.Data["interview_address"],
		"message":                   e.Data["message"],
		"timezone":                  e.Data["timezone"],
		"schedule_id":               e.Data["schedule_id"],
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var gapDurationNumber = regexp.MustCompile(`[\d.]+`)

// totalGapDuration sums employment gap durations expressed as free-form
// strings like "6 months" or "1.5 years" into a single human-readable total.
func totalGapDuration(gaps []any) string {
	if len(gaps) == 0 {
		return "0 months"
	}
	var totalMonths float64
	for _, g := range gaps {
		m, ok := g.(map[string]any)
		if !ok {
			continue
		}
		d, _ := m["duration"].(string)
		d = strings.ToLower(d)
		num, err := strconv.ParseFloat(gapDurationNumber.FindString(d), 64)
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(d, "year"):
			totalMonths += num * 12
		case strings.Contains(d, "month"):
			totalMonths += num
		}
	}
	if totalMonths >= 12 {
		years := int(totalMonths) / 12
		months := int(totalMonths) % 12
		if months > 0 {
			return fmt.Sprintf("%d years %d months", years, months)
		}
		return fmt.Sprintf("%d years", years)
	}
	return fmt.Sprintf("%g months", totalMonths)
}
