package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/chatdude/anonchat/internal/entitlement"
	"github.com/chatdude/anonchat/internal/errs"
	"github.com/chatdude/anonchat/internal/messaging"
	"github.com/chatdude/anonchat/internal/metrics"
)

const topReportsLimit = 10

// handleAdmin dispatches admin_* commands. Non-admin callers are refused
// regardless of the command.
func (r *Router) handleAdmin(ctx context.Context, cu messaging.CommandUpdate) {
	if !r.admins[cu.UserID] {
		r.replyErr(ctx, cu.UserID, fmt.Errorf("admin command from %d: %w", cu.UserID, errs.ErrPermission))
		return
	}

	switch cu.Command {
	case "admin_ban":
		r.adminBan(ctx, cu.UserID, cu.Args)
	case "admin_unban":
		r.adminTarget(ctx, cu.UserID, cu.Args, r.deps.Moderation.Unban, "Unbanned.")
	case "admin_grant":
		r.adminGrant(ctx, cu.UserID, cu.Args)
	case "admin_revoke":
		r.adminTarget(ctx, cu.UserID, cu.Args, r.deps.Ents.Revoke, "Entitlements revoked.")
	case "admin_delete":
		r.adminDelete(ctx, cu.UserID, cu.Args)
	case "admin_reports":
		r.adminReports(ctx, cu.UserID)
	case "admin_clear_reports":
		r.adminTarget(ctx, cu.UserID, cu.Args, r.deps.Moderation.ClearReports, "Reports cleared.")
	case "admin_broadcast":
		r.adminBroadcast(ctx, cu.UserID, cu.Args)
	case "admin_state":
		r.adminState(ctx, cu.UserID)
	default:
		r.reply(ctx, cu.UserID, "Unknown admin command.")
	}
}

// adminTarget runs a single-target operation: the argument is one user ID.
func (r *Router) adminTarget(ctx context.Context, adminID int64, args string, op func(context.Context, int64) error, done string) {
	targetID, err := parseID(args)
	if err != nil {
		r.reply(ctx, adminID, "Usage: <user_id>")
		return
	}
	if err := op(ctx, targetID); err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}
	r.reply(ctx, adminID, done)
}

// adminBan: /admin_ban <user_id> <days> [reason]. days 0 means permanent.
func (r *Router) adminBan(ctx context.Context, adminID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		r.reply(ctx, adminID, "Usage: /admin_ban <user_id> <days> [reason]")
		return
	}
	targetID, err := parseID(fields[0])
	if err != nil {
		r.reply(ctx, adminID, "Bad user ID.")
		return
	}
	days, err := strconv.Atoi(fields[1])
	if err != nil || days < 0 {
		r.reply(ctx, adminID, "Days must be a non-negative number (0 = permanent).")
		return
	}
	reason := strings.Join(fields[2:], " ")
	if reason == "" {
		reason = "manual ban"
	}

	if err := r.deps.Moderation.Ban(ctx, targetID, days, reason); err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}
	if days == 0 {
		r.reply(ctx, adminID, fmt.Sprintf("User %d banned permanently.", targetID))
		return
	}
	r.reply(ctx, adminID, fmt.Sprintf("User %d banned for %d days.", targetID, days))
}

// adminGrant: /admin_grant <user_id> <sku>.
func (r *Router) adminGrant(ctx context.Context, adminID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		r.reply(ctx, adminID, "Usage: /admin_grant <user_id> <sku>")
		return
	}
	targetID, err := parseID(fields[0])
	if err != nil {
		r.reply(ctx, adminID, "Bad user ID.")
		return
	}

	code := entitlement.SKU(fields[1])
	if err := r.deps.Ents.Grant(ctx, targetID, code); err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}
	metrics.GrantsTotal.WithLabelValues(string(code)).Inc()
	r.reply(ctx, adminID, fmt.Sprintf("Granted %s to %d.", code, targetID))
}

// adminDelete runs the same purge sequence as the user-facing /delete.
func (r *Router) adminDelete(ctx context.Context, adminID int64, args string) {
	targetID, err := parseID(args)
	if err != nil {
		r.reply(ctx, adminID, "Usage: /admin_delete <user_id>")
		return
	}
	if err := r.purgeUser(ctx, targetID); err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}
	r.reply(ctx, adminID, fmt.Sprintf("User %d deleted.", targetID))
}

func (r *Router) adminReports(ctx context.Context, adminID int64) {
	top, err := r.deps.Moderation.TopReports(ctx, topReportsLimit)
	if err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}
	if len(top) == 0 {
		r.reply(ctx, adminID, "No open reports.")
		return
	}

	var b strings.Builder
	b.WriteString("Most reported users:\n")
	for _, rc := range top {
		fmt.Fprintf(&b, "%d: %d reports\n", rc.UserID, rc.Count)
	}
	r.reply(ctx, adminID, b.String())
}

func (r *Router) adminBroadcast(ctx context.Context, adminID int64, text string) {
	if strings.TrimSpace(text) == "" {
		r.reply(ctx, adminID, "Usage: /admin_broadcast <text>")
		return
	}

	ids, err := r.deps.Users.IDs(ctx)
	if err != nil {
		r.replyErr(ctx, adminID, err)
		return
	}

	sent := 0
	for _, id := range ids {
		if _, err := r.deps.Transport.Send(ctx, id, messaging.Payload{
			Kind: messaging.KindBroadcast,
			Text: text,
		}); err != nil {
			metrics.NotifyFailures.Inc()
			log.Printf("[bot] broadcast to %d: %v", id, err)
			continue
		}
		sent++
	}
	r.reply(ctx, adminID, fmt.Sprintf("Broadcast delivered to %d of %d users.", sent, len(ids)))
}

func (r *Router) adminState(ctx context.Context, adminID int64) {
	r.reply(ctx, adminID, fmt.Sprintf(
		"Queue: %d waiting\nActive pairs: %d\nPending rematch requests: %d",
		r.deps.Registry.QueueLen(),
		r.deps.Registry.PairCount(),
		r.deps.Rematch.Pending(),
	))
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
