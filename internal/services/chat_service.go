// Package services – ChatService
//
// This file implements the inbound message driver: webhook dedup, keyword
// interception, and the optimistic-lock retry loop around session
// transitions. The per-flow step handlers live in chat_flows.go.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/messaging"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// InboundMessage is one user message as delivered by the webhook, already
// stripped of provider envelope details.
type InboundMessage struct {
	MessageID string
	Phone     string
	Text      string
	MediaID   string
	Latitude  *float64
	Longitude *float64
}

// HasLocation reports whether the message carries a location pin.
func (m *InboundMessage) HasLocation() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// afterFunc is a side effect deferred until after the session transition has
// been durably won: creating users, catches, subscriptions, jobs. Running
// these only on the winning write means a lost optimistic-lock race can
// never double-create. A non-empty return overrides the provisional reply.
type afterFunc func(ctx context.Context) (string, error)

// decision is the outcome of handling one message against one session
// snapshot: the reply, the target flow/step, and any deferred side effect.
type decision struct {
	reply string
	flow  domain.Flow
	step  domain.Step
	after afterFunc
}

// stay keeps the session where it is and just replies.
func (s *ChatService) stay(sess *domain.ConversationSession, reply string) decision {
	return decision{reply: reply, flow: sess.CurrentFlow, step: sess.CurrentStep}
}

// ChatService turns inbound messages into session transitions and replies.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sessions owns the per-phone state machine.
	Sessions *SessionService
	// Subs validates and creates subscriptions at the end of the setup flow.
	Subs *SubscriptionService
	// Matcher fans a newly posted catch out to subscribers.
	Matcher *MatcherService
	// Sender delivers the reply.
	Sender messaging.Sender

	Log zerolog.Logger
	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewChatService constructs a ChatService.
func NewChatService(db *gorm.DB, sessions *SessionService, subs *SubscriptionService, matcher *MatcherService, sender messaging.Sender, log zerolog.Logger) *ChatService {
	return &ChatService{
		DB:       db,
		Sessions: sessions,
		Subs:     subs,
		Matcher:  matcher,
		Sender:   sender,
		Log:      log,
		Now:      time.Now,
	}
}

// ProcessInbound handles one webhook message end to end and returns the
// reply that was sent (empty when the message was dropped as a duplicate).
//
// The session transition is decided against a snapshot and written with an
// optimistic lock. Losing the write means another webhook for the same phone
// advanced the session first; the decision is stale, so the loop re-reads
// and re-decides instead of replaying it. Side effects and the reply only
// happen after a won write.
func (s *ChatService) ProcessInbound(ctx context.Context, msg InboundMessage) (string, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "ProcessInbound",
		trace.WithAttributes(attribute.String("message.id", msg.MessageID)),
	)
	defer span.End()

	for attempt := 0; attempt < casRetries; attempt++ {
		sess, wasReset, err := s.Sessions.GetActiveOrReset(ctx, msg.Phone)
		if err != nil {
			return "", err
		}

		// Provider redeliveries carry the same message id; drop them
		// without touching the session.
		if msg.MessageID != "" && sess.LastMessageID == msg.MessageID {
			webhookDedup.Inc()
			s.Log.Debug().
				Str("phone", messaging.MaskPhone(msg.Phone)).
				Str("message_id", msg.MessageID).
				Msg("duplicate inbound dropped")
			return "", nil
		}

		d, err := s.decide(ctx, sess, msg)
		if err != nil {
			return "", err
		}
		if wasReset {
			d.reply = replyTimedOut + "\n\n" + d.reply
		}

		sess.LastMessageID = msg.MessageID
		err = s.Sessions.Advance(ctx, sess, d.flow, d.step)
		if errors.Is(err, ErrSessionConflict) {
			continue
		}
		if err != nil {
			return "", err
		}

		if d.after != nil {
			out, err := d.after(ctx)
			if err != nil {
				s.Log.Error().Err(err).
					Str("phone", messaging.MaskPhone(msg.Phone)).
					Str("step", string(d.step)).
					Msg("post-transition effect failed")
				d.reply = replySomethingBroke
			} else if out != "" {
				d.reply = out
			}
		}

		s.sendReply(ctx, msg.Phone, d.reply)
		return d.reply, nil
	}
	return "", ErrSessionConflict
}

// decide routes one message: keyword intents first, then the step handler
// for wherever the session currently stands.
func (s *ChatService) decide(ctx context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	if in := domain.DetectIntent(msg.Text); in != domain.IntentNone {
		return s.handleIntent(ctx, sess, in)
	}

	if sess.Idle() {
		return s.handleMenu(ctx, sess, msg)
	}

	switch sess.CurrentFlow {
	case domain.FlowRegistration:
		return s.handleRegistration(ctx, sess, msg)
	case domain.FlowCatchPosting:
		return s.handleCatchPosting(ctx, sess, msg)
	case domain.FlowSubscription:
		return s.handleSubscription(ctx, sess, msg)
	case domain.FlowJobPosting:
		return s.handleJobPosting(ctx, sess, msg)
	default:
		// Unknown flow tag on a live row; recover via the menu.
		return s.toMenu(sess, replyMenu), nil
	}
}

// handleIntent short-circuits the current flow. Help answers in place; the
// rest land on the main menu, with cancel/restart dropping flow scratch.
func (s *ChatService) handleIntent(_ context.Context, sess *domain.ConversationSession, in domain.Intent) (decision, error) {
	switch in {
	case domain.IntentHelp:
		return s.stay(sess, replyHelp), nil
	case domain.IntentCancel, domain.IntentRestart:
		if sess.Idle() {
			return s.toMenu(sess, replyMenu), nil
		}
		return s.toMenu(sess, replyCancelled+"\n\n"+replyMenu), nil
	default: // menu, greetings
		return s.toMenu(sess, replyMenu), nil
	}
}

// toMenu builds the decision that lands the session on the main menu with
// flow scratch dropped.
func (s *ChatService) toMenu(sess *domain.ConversationSession, reply string) decision {
	sess.TempData = ""
	return decision{reply: reply, flow: domain.FlowNone, step: domain.StepMainMenu}
}

// handleMenu interprets a message from an idle session: unregistered phones
// are routed into registration, registered ones pick a flow by number.
func (s *ChatService) handleMenu(ctx context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	user, err := repo.GetUserByPhone(ctx, s.DB, msg.Phone)
	if errors.Is(err, repo.ErrNotFound) {
		sess.TempData = ""
		return decision{
			reply: replyWelcomeAskName,
			flow:  domain.FlowRegistration,
			step:  domain.StepAwaitingName,
		}, nil
	}
	if err != nil {
		return decision{}, err
	}

	switch normalize(msg.Text) {
	case "1":
		if !user.IsSeller() {
			return s.stay(sess, replySellersOnly+"\n\n"+replyMenu), nil
		}
		sess.TempData = ""
		return decision{
			reply: replyAskSpecies,
			flow:  domain.FlowCatchPosting,
			step:  domain.StepAwaitingSpecies,
		}, nil
	case "2":
		sess.TempData = ""
		return decision{
			reply: replyAskPin,
			flow:  domain.FlowSubscription,
			step:  domain.StepAwaitingLocation,
		}, nil
	case "3":
		if !user.IsEmployer() {
			return s.stay(sess, replyEmployersOnly+"\n\n"+replyMenu), nil
		}
		sess.TempData = ""
		return decision{
			reply: replyAskJobTitle,
			flow:  domain.FlowJobPosting,
			step:  domain.StepAwaitingJobTitle,
		}, nil
	default:
		return s.toMenu(sess, replyMenu), nil
	}
}

// sendReply delivers the reply best-effort; a transport failure is logged
// and does not fail the webhook (the provider would redeliver the inbound,
// which dedup then drops).
func (s *ChatService) sendReply(ctx context.Context, phone, reply string) {
	if reply == "" {
		return
	}
	if _, err := s.Sender.Send(ctx, phone, reply); err != nil {
		s.Log.Error().Err(err).
			Str("phone", messaging.MaskPhone(phone)).
			Msg("reply send failed")
	}
}
