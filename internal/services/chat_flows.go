// Package services – conversation flow step handlers.
//
// Each handler interprets one message against one step of its flow: parse
// and validate the input, stash it in flow scratch, and move one step
// forward (or reprompt in place on bad input). Entity creation happens in
// deferred effects (see afterFunc in chat_service.go), never mid-decision.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// displayTitle renders user-typed names (fish types, job titles) for
// echo-back. A Caser is stateful, so build one per call.
func displayTitle(s string) string {
	return cases.Title(language.English).String(s)
}

// Flow scratch keys.
const (
	scratchName     = "name"
	scratchSpecies  = "species"
	scratchPrice    = "price"
	scratchQty      = "qty"
	scratchPhotoID  = "photo_id"
	scratchLat      = "lat"
	scratchLng      = "lng"
	scratchRadius   = "radius"
	scratchAllTypes = "all_types"
	scratchTypes    = "types"
	scratchFreq     = "frequency"
	scratchJobTitle = "job_title"
	scratchJobPay   = "job_pay"
)

// Canned replies. Copy lives here so the flow logic reads as a script.
const (
	replyMenu = "What would you like to do?\n" +
		"1. Post a catch\n" +
		"2. Get fish alerts near you\n" +
		"3. Post a job\n" +
		"Reply with a number, or HELP."
	replyHelp = "Reply MENU anytime to start over, CANCEL to abandon what " +
		"you are doing, or a menu number to begin."
	replyTimedOut       = "That took a while, so I started over for you."
	replyCancelled      = "Okay, cancelled."
	replySomethingBroke = "Something went wrong on our side. Please try again in a moment."
	replyWelcomeAskName = "Welcome! I don't know you yet. What's your name?"
	replyAskRole        = "Nice to meet you, %s. What describes you best?\n" +
		"1. I buy fish\n2. I sell fish\n3. I hire workers"
	replyRegistered = "You're all set, %s!\n\n" + replyMenu

	replySellersOnly   = "Only registered sellers can post catches."
	replyEmployersOnly = "Only registered employers can post jobs."

	replyAskSpecies  = "What did you catch today?"
	replyAskPrice    = "Price per kg (just the number)?"
	replyAskQuantity = "How many kg do you have?"
	replyAskPhoto    = "Send a photo of the catch, or reply SKIP."
	replyAskCatchPin = "Share your location pin so buyers nearby get notified."
	replyBadNumber   = "I need a plain positive number, like 250 or 12.5."
	replyNeedPin     = "Please use the attach button to share a location pin."
	replyConfirm     = "Post this?\n%s\nReply YES to post or NO to discard."

	replyAskPin       = "Share a location pin for where you want alerts."
	replyAskTypes     = "Which fish do you care about? Reply ALL, or names separated by commas."
	replyAskFrequency = "How often should I message you?\n" +
		"1. The moment something is posted\n" +
		"2. Once every morning\n" +
		"3. Morning and evening\n" +
		"4. A weekly digest on Sunday"
	replySubscribed = "Done! You'll get alerts for catches near you.\n\n" + replyMenu

	replyAskJobTitle = "What's the job? A short title is fine."
	replyAskJobPay   = "What does it pay (total amount)?"
	replyJobPosted   = "Your job is posted.\n\n" + replyMenu
)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// parsePositive parses a strictly positive decimal number from user text.
func parsePositive(text string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// setScratch mutates the session's in-memory scratch; the values are
// persisted by the transition write that follows.
func setScratch(sess *domain.ConversationSession, kv map[string]any) {
	t := sess.Temp()
	for k, v := range kv {
		t[k] = v
	}
	sess.TempData = domain.EncodeScratch(t)
}

// handleRegistration runs the name → role steps and creates the user (plus
// capability profile) once the role is chosen.
func (s *ChatService) handleRegistration(_ context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	switch sess.CurrentStep {
	case domain.StepAwaitingName:
		name := strings.TrimSpace(msg.Text)
		if name == "" || len(name) > 120 {
			return s.stay(sess, replyWelcomeAskName), nil
		}
		setScratch(sess, map[string]any{scratchName: name})
		return decision{
			reply: fmt.Sprintf(replyAskRole, name),
			flow:  domain.FlowRegistration,
			step:  domain.StepAwaitingRole,
		}, nil

	case domain.StepAwaitingRole:
		role := normalize(msg.Text)
		if role != "1" && role != "2" && role != "3" {
			return s.stay(sess, fmt.Sprintf(replyAskRole, sess.Temp().String(scratchName))), nil
		}
		name := sess.Temp().String(scratchName)
		phone := msg.Phone
		d := s.toMenu(sess, "")
		d.after = func(ctx context.Context) (string, error) {
			u, err := repo.CreateUser(ctx, s.DB, phone, name, sess.Language)
			if errors.Is(err, repo.ErrDuplicate) {
				u, err = repo.GetUserByPhone(ctx, s.DB, phone)
			}
			if err != nil {
				return "", err
			}
			switch role {
			case "2":
				if _, err := repo.AttachSellerProfile(ctx, s.DB, u.ID, ""); err != nil && !errors.Is(err, repo.ErrDuplicate) {
					return "", err
				}
			case "3":
				if _, err := repo.AttachEmployerProfile(ctx, s.DB, u.ID, ""); err != nil && !errors.Is(err, repo.ErrDuplicate) {
					return "", err
				}
			}
			// Link the session to the account; losing this race is
			// harmless, lookups key on phone.
			sess.UserID = &u.ID
			if err := s.Sessions.Touch(ctx, sess); err != nil {
				s.Log.Debug().Err(err).Msg("session user link skipped")
			}
			return fmt.Sprintf(replyRegistered, name), nil
		}
		return d, nil

	default:
		return s.toMenu(sess, replyMenu), nil
	}
}

// handleCatchPosting walks a seller through species → price → quantity →
// photo → location → confirm, then posts the catch and fans out alerts.
func (s *ChatService) handleCatchPosting(_ context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	switch sess.CurrentStep {
	case domain.StepAwaitingSpecies:
		species := strings.TrimSpace(msg.Text)
		if species == "" {
			return s.stay(sess, replyAskSpecies), nil
		}
		setScratch(sess, map[string]any{scratchSpecies: species})
		return decision{reply: replyAskPrice, flow: domain.FlowCatchPosting, step: domain.StepAwaitingPrice}, nil

	case domain.StepAwaitingPrice:
		price, ok := parsePositive(msg.Text)
		if !ok {
			return s.stay(sess, replyBadNumber), nil
		}
		setScratch(sess, map[string]any{scratchPrice: price})
		return decision{reply: replyAskQuantity, flow: domain.FlowCatchPosting, step: domain.StepAwaitingQuantity}, nil

	case domain.StepAwaitingQuantity:
		qty, ok := parsePositive(msg.Text)
		if !ok {
			return s.stay(sess, replyBadNumber), nil
		}
		setScratch(sess, map[string]any{scratchQty: qty})
		return decision{reply: replyAskPhoto, flow: domain.FlowCatchPosting, step: domain.StepAwaitingPhoto}, nil

	case domain.StepAwaitingPhoto:
		if msg.MediaID != "" {
			setScratch(sess, map[string]any{scratchPhotoID: msg.MediaID})
		} else if normalize(msg.Text) != "skip" {
			return s.stay(sess, replyAskPhoto), nil
		}
		return decision{reply: replyAskCatchPin, flow: domain.FlowCatchPosting, step: domain.StepAwaitingLocation}, nil

	case domain.StepAwaitingLocation:
		if !msg.HasLocation() {
			return s.stay(sess, replyNeedPin), nil
		}
		setScratch(sess, map[string]any{scratchLat: *msg.Latitude, scratchLng: *msg.Longitude})
		t := sess.Temp()
		summary := fmt.Sprintf("%s, %.0f/kg, %.1f kg",
			displayTitle(t.String(scratchSpecies)), t.Float(scratchPrice), t.Float(scratchQty))
		return decision{
			reply: fmt.Sprintf(replyConfirm, summary),
			flow:  domain.FlowCatchPosting,
			step:  domain.StepConfirm,
		}, nil

	case domain.StepConfirm:
		switch normalize(msg.Text) {
		case "yes", "y", "1":
			t := sess.Temp()
			phone := msg.Phone
			d := s.toMenu(sess, "")
			d.after = func(ctx context.Context) (string, error) {
				u, err := repo.GetUserByPhone(ctx, s.DB, phone)
				if errors.Is(err, repo.ErrNotFound) {
					return "", ErrUserNotFound
				}
				if err != nil {
					return "", err
				}
				if !u.IsSeller() {
					return "", ErrNotSeller
				}
				c := &domain.FishCatch{
					SellerID:    u.ID,
					FishTypeID:  t.String(scratchSpecies),
					Description: t.String(scratchSpecies),
					PricePerKg:  t.Float(scratchPrice),
					QuantityKg:  t.Float(scratchQty),
					Latitude:    t.Float(scratchLat),
					Longitude:   t.Float(scratchLng),
				}
				if err := repo.CreateCatch(ctx, s.DB, c); err != nil {
					return "", err
				}
				n, err := s.Matcher.Notify(ctx, c)
				if err != nil {
					// The catch is live; a partial fan-out is not the
					// seller's problem.
					s.Log.Error().Err(err).Str("catch_id", c.ID).Msg("fan-out incomplete")
				}
				return fmt.Sprintf("Posted! %d nearby buyers are being notified.\n\n%s", n, replyMenu), nil
			}
			return d, nil
		case "no", "n", "2":
			return s.toMenu(sess, replyCancelled+"\n\n"+replyMenu), nil
		default:
			return s.stay(sess, "Reply YES to post or NO to discard."), nil
		}

	default:
		return s.toMenu(sess, replyMenu), nil
	}
}

// handleSubscription walks a buyer through location → radius → types →
// frequency, then creates the subscription.
func (s *ChatService) handleSubscription(_ context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	switch sess.CurrentStep {
	case domain.StepAwaitingLocation:
		if !msg.HasLocation() {
			return s.stay(sess, replyNeedPin), nil
		}
		setScratch(sess, map[string]any{scratchLat: *msg.Latitude, scratchLng: *msg.Longitude})
		return decision{reply: s.radiusPrompt(), flow: domain.FlowSubscription, step: domain.StepAwaitingRadius}, nil

	case domain.StepAwaitingRadius:
		radius, ok := parsePositive(msg.Text)
		if !ok || !s.Subs.radiusAllowed(radius) {
			return s.stay(sess, s.radiusPrompt()), nil
		}
		setScratch(sess, map[string]any{scratchRadius: radius})
		return decision{reply: replyAskTypes, flow: domain.FlowSubscription, step: domain.StepAwaitingTypes}, nil

	case domain.StepAwaitingTypes:
		text := normalize(msg.Text)
		if text == "" {
			return s.stay(sess, replyAskTypes), nil
		}
		if text == "all" {
			setScratch(sess, map[string]any{scratchAllTypes: true, scratchTypes: ""})
		} else {
			setScratch(sess, map[string]any{scratchAllTypes: false, scratchTypes: text})
		}
		return decision{reply: replyAskFrequency, flow: domain.FlowSubscription, step: domain.StepAwaitingFrequency}, nil

	case domain.StepAwaitingFrequency:
		freq, ok := frequencyChoice(msg.Text)
		if !ok {
			return s.stay(sess, replyAskFrequency), nil
		}
		t := sess.Temp()
		phone := msg.Phone
		d := s.toMenu(sess, "")
		d.after = func(ctx context.Context) (string, error) {
			u, err := repo.GetUserByPhone(ctx, s.DB, phone)
			if err != nil {
				return "", err
			}
			_, err = s.Subs.Create(ctx, SubscriptionParams{
				UserID:      u.ID,
				Phone:       phone,
				Latitude:    t.Float(scratchLat),
				Longitude:   t.Float(scratchLng),
				RadiusKm:    t.Float(scratchRadius),
				AllTypes:    t.Bool(scratchAllTypes),
				FishTypeIDs: splitTypes(t.String(scratchTypes)),
				Frequency:   freq,
			})
			if err != nil {
				return "", err
			}
			return replySubscribed, nil
		}
		return d, nil

	default:
		return s.toMenu(sess, replyMenu), nil
	}
}

// handleJobPosting walks an employer through title → pay → confirm.
func (s *ChatService) handleJobPosting(_ context.Context, sess *domain.ConversationSession, msg InboundMessage) (decision, error) {
	switch sess.CurrentStep {
	case domain.StepAwaitingJobTitle:
		title := strings.TrimSpace(msg.Text)
		if title == "" || len(title) > 200 {
			return s.stay(sess, replyAskJobTitle), nil
		}
		setScratch(sess, map[string]any{scratchJobTitle: title})
		return decision{reply: replyAskJobPay, flow: domain.FlowJobPosting, step: domain.StepAwaitingJobPay}, nil

	case domain.StepAwaitingJobPay:
		pay, ok := parsePositive(msg.Text)
		if !ok {
			return s.stay(sess, replyBadNumber), nil
		}
		setScratch(sess, map[string]any{scratchJobPay: pay})
		t := sess.Temp()
		summary := fmt.Sprintf("%s, pays %.0f", displayTitle(t.String(scratchJobTitle)), pay)
		return decision{
			reply: fmt.Sprintf(replyConfirm, summary),
			flow:  domain.FlowJobPosting,
			step:  domain.StepConfirm,
		}, nil

	case domain.StepConfirm:
		switch normalize(msg.Text) {
		case "yes", "y", "1":
			t := sess.Temp()
			phone := msg.Phone
			d := s.toMenu(sess, "")
			d.after = func(ctx context.Context) (string, error) {
				u, err := repo.GetUserByPhone(ctx, s.DB, phone)
				if errors.Is(err, repo.ErrNotFound) {
					return "", ErrUserNotFound
				}
				if err != nil {
					return "", err
				}
				j := &domain.JobPosting{
					EmployerID: u.ID,
					Title:      t.String(scratchJobTitle),
					PayAmount:  t.Float(scratchJobPay),
				}
				if err := repo.CreateJob(ctx, s.DB, j); err != nil {
					return "", err
				}
				return replyJobPosted, nil
			}
			return d, nil
		case "no", "n", "2":
			return s.toMenu(sess, replyCancelled+"\n\n"+replyMenu), nil
		default:
			return s.stay(sess, "Reply YES to post or NO to discard."), nil
		}

	default:
		return s.toMenu(sess, replyMenu), nil
	}
}

// radiusPrompt renders the allowed radius choices.
func (s *ChatService) radiusPrompt() string {
	opts := make([]string, 0, len(s.Subs.AllowedRadiiKm))
	for _, r := range s.Subs.AllowedRadiiKm {
		opts = append(opts, strconv.FormatFloat(r, 'f', -1, 64))
	}
	return fmt.Sprintf("How far should I look? Reply with one of: %s (km).", strings.Join(opts, ", "))
}

// frequencyChoice maps a menu digit to an alert frequency.
func frequencyChoice(text string) (domain.AlertFrequency, bool) {
	switch normalize(text) {
	case "1":
		return domain.FrequencyImmediate, true
	case "2":
		return domain.FrequencyMorningOnly, true
	case "3":
		return domain.FrequencyTwiceDaily, true
	case "4":
		return domain.FrequencyWeeklyDigest, true
	}
	return "", false
}

// splitTypes parses the comma-separated fish type answer.
func splitTypes(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
