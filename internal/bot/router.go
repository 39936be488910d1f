// Package bot routes incoming updates to the engine services: commands,
// callback buttons, free text and payment confirmations. It owns the
// user-facing wording, the admin allow-list and the per-family rate limits;
// all domain decisions live in the services it calls.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/chatdude/anonchat/internal/chat"
	"github.com/chatdude/anonchat/internal/entitlement"
	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/match"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
	"github.com/chatdude/anonchat/internal/moderation"
	"github.com/chatdude/anonchat/internal/onboarding"
	"github.com/chatdude/anonchat/internal/ratelimit"
	"github.com/chatdude/anonchat/internal/rematch"
	"github.com/chatdude/anonchat/internal/user"
	"github.com/chatdude/anonchat/internal/vault"
)

const helpText = `Commands:
/next - find a chat partner
/stop - leave the current chat or queue
/report - report your current partner
/rematch [n] - reconnect with a past partner (1 = most recent)
/vault - your saved messages
/settings - edit your profile
/premium - available upgrades
/delete - erase your account and data
/help - this message`

// Answerer acknowledges callback button presses. The Telegram transport
// implements it; the NATS transport has nothing to acknowledge.
type Answerer interface {
	AnswerCallback(callbackID, text string) error
}

// Deps are the wired services the router dispatches to.
type Deps struct {
	Transport  messaging.Transport
	Answerer   Answerer // may be nil
	Users      *user.Store
	Vault      *vault.Store
	Onboarding *onboarding.Service
	Match      *match.Service
	Registry   *match.Registry
	Chat       *chat.Service
	Rematch    *rematch.Service
	Moderation *moderation.Service
	Ents       *entitlement.Service
	Limiter    *ratelimit.Limiter
	AdminIDs   []int64
}

// Router dispatches updates.
type Router struct {
	deps   Deps
	admins map[int64]bool
}

// NewRouter creates the router.
func NewRouter(deps Deps) *Router {
	admins := make(map[int64]bool, len(deps.AdminIDs))
	for _, id := range deps.AdminIDs {
		admins[id] = true
	}
	return &Router{deps: deps, admins: admins}
}

// Handlers binds the router to the transport's update loop.
func (r *Router) Handlers() messaging.Handlers {
	return messaging.Handlers{
		OnCommand:  r.HandleCommand,
		OnText:     r.HandleText,
		OnCallback: r.HandleCallback,
		OnPayment:  r.HandlePayment,
	}
}

// HandleCommand dispatches one slash command.
func (r *Router) HandleCommand(ctx context.Context, cu messaging.CommandUpdate) {
	if strings.HasPrefix(cu.Command, "admin_") {
		r.handleAdmin(ctx, cu)
		return
	}

	switch cu.Command {
	case "start":
		r.cmdStart(ctx, cu.UserID)
	case "help":
		r.reply(ctx, cu.UserID, helpText)
	case "next":
		r.cmdNext(ctx, cu.UserID)
	case "stop":
		r.cmdStop(ctx, cu.UserID)
	case "report":
		r.cmdReport(ctx, cu.UserID)
	case "rematch":
		r.cmdRematch(ctx, cu.UserID, cu.Args)
	case "vault":
		r.cmdVault(ctx, cu.UserID)
	case "settings":
		r.cmdSettings(ctx, cu.UserID, cu.Args)
	case "premium":
		r.cmdPremium(ctx, cu.UserID)
	case "delete":
		r.cmdDelete(ctx, cu.UserID)
	default:
		r.reply(ctx, cu.UserID, "Unknown command. Try /help.")
	}
}

// HandleText feeds free text to onboarding while the profile is incomplete,
// then to the chat relay.
func (r *Router) HandleText(ctx context.Context, tu messaging.TextUpdate) {
	u, err := r.deps.Users.Get(ctx, tu.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		r.reply(ctx, tu.UserID, "Send /start to begin.")
		return
	}
	if err != nil {
		r.replyErr(ctx, tu.UserID, err)
		return
	}

	if !u.Complete() {
		r.onboardingInput(ctx, tu.UserID, tu.Text)
		return
	}

	if err := r.deps.Chat.Relay(ctx, tu.UserID, tu.Text); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			r.reply(ctx, tu.UserID, "You're not in a chat. Send /next to find a partner.")
			return
		}
		r.replyErr(ctx, tu.UserID, err)
	}
}

// HandleCallback dispatches inline button presses.
func (r *Router) HandleCallback(ctx context.Context, cb messaging.CallbackUpdate) {
	r.answer(cb.CallbackID)

	switch {
	case strings.HasPrefix(cb.Data, "consent:"):
		r.onboardingInput(ctx, cb.UserID, strings.TrimPrefix(cb.Data, "consent:"))
	case strings.HasPrefix(cb.Data, "gender:"):
		r.onboardingInput(ctx, cb.UserID, strings.TrimPrefix(cb.Data, "gender:"))
	case strings.HasPrefix(cb.Data, "rematch:accept:"):
		requesterID, err := parseID(strings.TrimPrefix(cb.Data, "rematch:accept:"))
		if err != nil {
			log.Printf("[bot] bad rematch callback %q from %d", cb.Data, cb.UserID)
			return
		}
		if err := r.deps.Rematch.Accept(ctx, cb.UserID, requesterID); err != nil {
			r.replyErr(ctx, cb.UserID, err)
		}
	case strings.HasPrefix(cb.Data, "rematch:decline:"):
		requesterID, err := parseID(strings.TrimPrefix(cb.Data, "rematch:decline:"))
		if err != nil {
			log.Printf("[bot] bad rematch callback %q from %d", cb.Data, cb.UserID)
			return
		}
		if err := r.deps.Rematch.Decline(ctx, cb.UserID, requesterID); err != nil {
			r.replyErr(ctx, cb.UserID, err)
		}
	default:
		log.Printf("[bot] unknown callback data %q from %d", cb.Data, cb.UserID)
	}
}

// HandlePayment credits a confirmed payment.
func (r *Router) HandlePayment(ctx context.Context, pu messaging.PaymentUpdate) {
	ev := entitlement.PaymentEvent{
		UserID:   pu.UserID,
		Code:     entitlement.SKU(pu.Code),
		ChargeID: pu.ChargeID,
	}
	if err := r.deps.Ents.GrantPayment(ctx, ev); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			// Replayed confirmation: already credited, stay quiet.
			log.Printf("[bot] duplicate charge %s from %d", pu.ChargeID, pu.UserID)
			return
		}
		r.replyErr(ctx, pu.UserID, err)
		return
	}
	metrics.GrantsTotal.WithLabelValues(pu.Code).Inc()
	r.reply(ctx, pu.UserID, "Payment received. Your upgrade is active.")
}

func (r *Router) cmdStart(ctx context.Context, userID int64) {
	step, err := r.deps.Onboarding.Begin(ctx, userID)
	if err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	if step == user.StepDone {
		r.reply(ctx, userID, "Welcome back. Send /next to find a partner.")
		return
	}
	r.send(ctx, userID, promptFor(step))
}

func (r *Router) cmdNext(ctx context.Context, userID int64) {
	if !r.allow(ctx, userID, ratelimit.FamilyMatch) {
		return
	}
	status, err := r.deps.Match.Enqueue(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			r.reply(ctx, userID, "Finish your profile first. Send /start.")
			return
		}
		r.replyErr(ctx, userID, err)
		return
	}
	r.deps.Limiter.Commit(userID, ratelimit.FamilyMatch)

	if status == match.AlreadyQueued {
		r.reply(ctx, userID, "You're already in the queue. Hang tight.")
		return
	}
	r.reply(ctx, userID, "Looking for a partner...")
}

func (r *Router) cmdStop(ctx context.Context, userID int64) {
	if err := r.deps.Match.Dequeue(ctx, userID); err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	r.reply(ctx, userID, "You've left the chat. Send /next when you're ready.")
}

func (r *Router) cmdReport(ctx context.Context, userID int64) {
	partnerID, ok := r.deps.Match.PartnerOf(userID)
	if !ok {
		r.reply(ctx, userID, "You're not in a chat, there's nobody to report.")
		return
	}
	if !r.allow(ctx, userID, ratelimit.FamilyReport) {
		return
	}

	banned, err := r.deps.Moderation.FileReport(ctx, userID, partnerID)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			r.reply(ctx, userID, "You already reported this user.")
			return
		}
		r.replyErr(ctx, userID, err)
		return
	}
	r.deps.Limiter.Commit(userID, ratelimit.FamilyReport)

	if banned {
		r.reply(ctx, userID, "Report filed. The user has been removed.")
		return
	}
	r.reply(ctx, userID, "Report filed. Thank you.")
}

func (r *Router) cmdRematch(ctx context.Context, userID int64, args string) {
	if !r.allow(ctx, userID, ratelimit.FamilyRematch) {
		return
	}

	u, err := r.deps.Users.Get(ctx, userID)
	if err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	history := u.Profile.PastPartners
	if len(history) == 0 {
		r.reply(ctx, userID, "No past partners yet. Send /next to meet someone.")
		return
	}

	// n counts back from the most recent partner, default 1.
	n := 1
	if args != "" {
		n, err = strconv.Atoi(args)
		if err != nil || n < 1 || n > len(history) {
			r.reply(ctx, userID, fmt.Sprintf("Pick a number between 1 and %d.", len(history)))
			return
		}
	}
	targetID := history[len(history)-n]

	if err := r.deps.Rematch.Request(ctx, userID, targetID); err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	r.deps.Limiter.Commit(userID, ratelimit.FamilyRematch)
}

func (r *Router) cmdVault(ctx context.Context, userID int64) {
	if !r.allow(ctx, userID, ratelimit.FamilyVault) {
		return
	}
	entries, enabled, err := r.deps.Chat.VaultView(ctx, userID)
	if err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	r.deps.Limiter.Commit(userID, ratelimit.FamilyVault)

	if !enabled {
		r.reply(ctx, userID, "The chat vault is a premium feature. See /premium.")
		return
	}
	if len(entries) == 0 {
		r.reply(ctx, userID, "Your vault is empty.")
		return
	}

	var b strings.Builder
	b.WriteString("Your saved messages, newest first:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s (%s):\n%s\n", e.PartnerName, e.At.Format("Jan 2 15:04"), e.Text)
	}
	r.reply(ctx, userID, b.String())
}

func (r *Router) cmdSettings(ctx context.Context, userID int64, args string) {
	if args == "" {
		r.reply(ctx, userID, "Usage: /settings <name|age|gender|location|tags|mood> [value]\n"+
			"Tags and mood take the value inline, e.g. /settings tags music, travel")
		return
	}
	if !r.allow(ctx, userID, ratelimit.FamilySettings) {
		return
	}

	field, value, _ := strings.Cut(args, " ")
	var err error
	switch field {
	case "tags":
		tags := strings.Split(value, ",")
		for i := range tags {
			tags[i] = strings.TrimSpace(tags[i])
		}
		err = r.deps.Onboarding.SetTags(ctx, userID, tags)
	case "mood":
		err = r.deps.Onboarding.SetMood(ctx, userID, value)
	case "name", "age", "gender", "location":
		step := user.OnboardingStep(field)
		if err = r.deps.Onboarding.Seek(ctx, userID, step); err == nil {
			r.deps.Limiter.Commit(userID, ratelimit.FamilySettings)
			r.send(ctx, userID, promptFor(step))
			return
		}
	default:
		r.reply(ctx, userID, "Unknown field. Try /settings for usage.")
		return
	}

	if err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	r.deps.Limiter.Commit(userID, ratelimit.FamilySettings)
	r.reply(ctx, userID, "Saved.")
}

func (r *Router) cmdPremium(ctx context.Context, userID int64) {
	var b strings.Builder
	b.WriteString("Available upgrades:\n")
	for _, code := range entitlement.SKUs() {
		fmt.Fprintf(&b, "- %s\n", code)
	}
	r.reply(ctx, userID, b.String())
}

// cmdDelete erases the caller's account on their own request.
func (r *Router) cmdDelete(ctx context.Context, userID int64) {
	if err := r.purgeUser(ctx, userID); err != nil {
		r.replyErr(ctx, userID, err)
		return
	}
	r.reply(ctx, userID, "Your account and data have been erased. Send /start to begin again.")
}

// purgeUser removes every trace of a user: pairing or queue slot, pending
// rematch requests, limiter state, the vault, and finally the record.
func (r *Router) purgeUser(ctx context.Context, targetID int64) error {
	if err := r.deps.Match.Dequeue(ctx, targetID); err != nil {
		log.Printf("[bot] delete %d: dequeue: %v", targetID, err)
	}
	r.deps.Rematch.PurgeUser(targetID)
	r.deps.Limiter.Forget(targetID)
	if err := r.deps.Vault.Purge(ctx, targetID); err != nil {
		log.Printf("[bot] delete %d: purge vault: %v", targetID, err)
	}
	return r.deps.Users.Delete(ctx, targetID)
}

// onboardingInput feeds one answer to the flow and prompts the next step.
func (r *Router) onboardingInput(ctx context.Context, userID int64, text string) {
	res, err := r.deps.Onboarding.Input(ctx, userID, text)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			r.reply(ctx, userID, friendly(err))
			return
		}
		r.replyErr(ctx, userID, err)
		return
	}
	if res.Terminated {
		r.reply(ctx, userID, "Understood. Nothing was stored. Send /start if you change your mind.")
		return
	}
	if res.Next == user.StepDone {
		r.reply(ctx, userID, "Profile complete. Send /next to find a partner.")
		return
	}
	r.send(ctx, userID, promptFor(res.Next))
}

// allow checks the rate limit and tells the user to wait when throttled.
func (r *Router) allow(ctx context.Context, userID int64, family ratelimit.Family) bool {
	ok, retry := r.deps.Limiter.Allow(userID, family)
	if !ok {
		r.reply(ctx, userID, fmt.Sprintf("Too fast. Try again in %d seconds.", int(retry.Seconds())+1))
	}
	return ok
}

func (r *Router) reply(ctx context.Context, userID int64, text string) {
	r.send(ctx, userID, messaging.Payload{Kind: messaging.KindSystem, Text: text})
}

func (r *Router) send(ctx context.Context, userID int64, p messaging.Payload) {
	if _, err := r.deps.Transport.Send(ctx, userID, p); err != nil {
		metrics.NotifyFailures.Inc()
		log.Printf("[bot] send to %d: %v", userID, err)
	}
}

// replyErr maps an engine error to user-facing wording. Persistence
// failures stay generic; the rest carry their own description.
func (r *Router) replyErr(ctx context.Context, userID int64, err error) {
	switch {
	case errors.Is(err, errs.ErrBanned):
		r.reply(ctx, userID, "Your account is suspended.")
	case errors.Is(err, errs.ErrPersistence):
		r.reply(ctx, userID, "Something went wrong. Please try again.")
	case errors.Is(err, errs.ErrPermission):
		r.reply(ctx, userID, "You're not allowed to do that.")
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrConflict),
		errors.Is(err, errs.ErrNotFound):
		r.reply(ctx, userID, friendly(err))
	default:
		log.Printf("[bot] unmapped error for %d: %v", userID, err)
		r.reply(ctx, userID, "Something went wrong. Please try again.")
	}
}

func (r *Router) answer(callbackID string) {
	if r.deps.Answerer == nil {
		return
	}
	if err := r.deps.Answerer.AnswerCallback(callbackID, ""); err != nil {
		log.Printf("[bot] answer callback: %v", err)
	}
}

// friendly strips the sentinel suffix from a wrapped engine error, leaving
// the human-readable prefix.
func friendly(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i > 0 {
		msg = msg[:i]
	}
	if msg == "" {
		return "That didn't work."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

// promptFor returns the outbound prompt for an onboarding step. Consent and
// gender get buttons; the rest are free text.
func promptFor(step user.OnboardingStep) messaging.Payload {
	switch step {
	case user.StepConsent:
		return messaging.Payload{
			Kind: messaging.KindPrompt,
			Text: "Welcome! This is an anonymous chat. You must be 18 or older and agree to the rules. Do you agree?",
			Actions: []messaging.Action{
				{Label: "I agree", Data: "consent:yes"},
				{Label: "No thanks", Data: "consent:no"},
			},
		}
	case user.StepName:
		return messaging.Payload{Kind: messaging.KindPrompt, Text: "What should we call you?"}
	case user.StepAge:
		return messaging.Payload{Kind: messaging.KindPrompt, Text: "How old are you?"}
	case user.StepGender:
		return messaging.Payload{
			Kind: messaging.KindPrompt,
			Text: "What's your gender?",
			Actions: []messaging.Action{
				{Label: "Male", Data: "gender:male"},
				{Label: "Female", Data: "gender:female"},
				{Label: "Other", Data: "gender:other"},
			},
		}
	case user.StepLocation:
		return messaging.Payload{Kind: messaging.KindPrompt, Text: "Where are you from?"}
	default:
		return messaging.Payload{Kind: messaging.KindPrompt, Text: "Send /help for commands."}
	}
}
