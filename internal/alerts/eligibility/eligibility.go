package eligibility

import (
	"strings"
	"time"

	"github.com/google/uuid"

	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
	"github.com/riskwatch/riskwatch-backend/internal/plans"
)

type SkipReason string

const (
	SkipReasonNone                  SkipReason = ""
	SkipReasonMissingDestination    SkipReason = "missing_destination"
	SkipReasonChannelDisabledByUser SkipReason = "channel_disabled_by_user"
	SkipReasonSMSNotInPlan          SkipReason = "sms_not_in_plan"
	SkipReasonPlanDigestOnly        SkipReason = "plan_digest_only"
	SkipReasonChannelNotAllowed     SkipReason = "channel_not_allowed"
	SkipReasonQuotaExceeded         SkipReason = "quota_exceeded"
	SkipReasonAlreadyExists         SkipReason = "already_exists"
)

// Subscriber pairs a user with their notification prefs. Prefs may be nil
// for users who never saved any; the zero behavior is email-only defaults.
type Subscriber struct {
	User  *types.User
	Prefs *types.NotificationPrefs
}

func (s Subscriber) Destination(ch types.Channel) string {
	switch ch {
	case types.ChannelEmail:
		return strings.TrimSpace(s.User.Email)
	case types.ChannelChat:
		if s.Prefs == nil {
			return ""
		}
		return strings.TrimSpace(s.Prefs.ChatWebhookURL)
	case types.ChannelSMS:
		if s.Prefs == nil {
			return ""
		}
		return strings.TrimSpace(s.Prefs.PhoneNumber)
	}
	return ""
}

func (s Subscriber) ChannelEnabled(ch types.Channel) bool {
	if s.Prefs == nil {
		return ch == types.ChannelEmail
	}
	switch ch {
	case types.ChannelEmail:
		return s.Prefs.EmailEnabled
	case types.ChannelChat:
		return s.Prefs.ChatEnabled
	case types.ChannelSMS:
		return s.Prefs.SMSEnabled
	}
	return false
}

// ResolveKind picks digest when either the plan or the user demands it.
func ResolveKind(prefs *types.NotificationPrefs, quota plans.Quota) types.DeliveryKind {
	if quota.DigestOnly {
		return types.DeliveryKindDigest
	}
	if prefs != nil && prefs.DigestPreferred {
		return types.DeliveryKindDigest
	}
	return types.DeliveryKindInstant
}

type Result struct {
	Eligible bool
	Kind     types.DeliveryKind
	Reason   SkipReason
}

func ineligible(reason SkipReason) Result {
	return Result{Reason: reason}
}

// Checker evaluates the ordered eligibility gate for one (user, channel,
// event). The first failing check wins; quota counting is UTC-day scoped.
type Checker struct {
	deliveries alertsrepo.DeliveryRepo
	digests    alertsrepo.DigestRepo
	log        *logger.Logger
	now        func() time.Time
}

func NewChecker(deliveries alertsrepo.DeliveryRepo, digests alertsrepo.DigestRepo, baseLog *logger.Logger) *Checker {
	return &Checker{
		deliveries: deliveries,
		digests:    digests,
		log:        baseLog.With("component", "EligibilityChecker"),
		now:        time.Now,
	}
}

func utcDayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (c *Checker) Check(dbc dbctx.Context, sub Subscriber, ch types.Channel, quota plans.Quota, eventID uuid.UUID) (Result, error) {
	if sub.Destination(ch) == "" {
		return ineligible(SkipReasonMissingDestination), nil
	}
	if !sub.ChannelEnabled(ch) {
		return ineligible(SkipReasonChannelDisabledByUser), nil
	}
	if ch == types.ChannelSMS && !quota.SMSIncluded {
		return ineligible(SkipReasonSMSNotInPlan), nil
	}
	if !quota.ChannelEnabled[ch] {
		return ineligible(SkipReasonChannelNotAllowed), nil
	}

	kind := ResolveKind(sub.Prefs, quota)
	dayStart := utcDayStart(c.now())

	switch kind {
	case types.DeliveryKindDigest:
		if !quota.DigestEnabled[ch] {
			// The plan only offers digests and this channel has no digest
			// mode; a user-forced digest on such a channel fails the same
			// way the channel config does.
			if quota.DigestOnly {
				return ineligible(SkipReasonPlanDigestOnly), nil
			}
			return ineligible(SkipReasonChannelNotAllowed), nil
		}
		if quota.DigestPerDay > 0 {
			count, err := c.digests.CountCreatedSince(dbc, sub.User.ID, ch, dayStart)
			if err != nil {
				return Result{}, err
			}
			if count >= int64(quota.DigestPerDay) {
				return ineligible(SkipReasonQuotaExceeded), nil
			}
		}
	default:
		limit := quota.InstantPerDay[ch]
		if limit <= 0 {
			return ineligible(SkipReasonQuotaExceeded), nil
		}
		count, err := c.deliveries.CountActiveInstantSince(dbc, sub.User.ID, ch, dayStart)
		if err != nil {
			return Result{}, err
		}
		if count >= int64(limit) {
			return ineligible(SkipReasonQuotaExceeded), nil
		}
	}

	exists, err := c.deliveries.Exists(dbc, sub.User.ID, eventID, ch)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return ineligible(SkipReasonAlreadyExists), nil
	}

	return Result{Eligible: true, Kind: kind}, nil
}
