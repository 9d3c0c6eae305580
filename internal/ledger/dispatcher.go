package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/schema"
	"github.com/bafoka-labs/voicebank/internal/store"
)

// Dispatcher is the idempotent bridge from a fully-slotted, confirmed intent
// to exactly one ledger call.
type Dispatcher struct {
	repo     store.Repository
	client   Client
	registry *schema.Registry
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher over the repository and ledger client.
func NewDispatcher(repo store.Repository, client Client, registry *schema.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{repo: repo, client: client, registry: registry, logger: logger}
}

// ActionID derives the deterministic dispatch identifier from the session,
// intent, canonical slot set, and the turn at which the slot set became
// complete. The same completed intent never produces two IDs; changing any
// slot value produces a new one.
func ActionID(session *domain.Session, spec *schema.IntentSpec) string {
	names := spec.RequiredSlotNames()
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		if slot, ok := session.Slots[name]; ok {
			pairs = append(pairs, name+"="+slot.Value)
		}
	}
	sort.Strings(pairs)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d",
		session.SessionID, spec.Name, strings.Join(pairs, "&"),
		session.SlotCompleteTurn(names))
	return hex.EncodeToString(h.Sum(nil))
}

// Dispatch submits the session's pending intent to the ledger. Callable only
// while the session is EXECUTING with every required slot filled.
//
// Replay protection: an existing CONFIRMED record for the same action ID is
// returned without a second network call; an existing SUBMITTED record is
// returned as-is (a prior dispatch is in flight or died mid-call, and blindly
// re-submitting risks a double spend); an existing FAILED record is
// re-submitted under the same ID, which is safe only because this method is
// reachable solely through a fresh explicit user confirmation.
func (d *Dispatcher) Dispatch(ctx context.Context, session *domain.Session) (*domain.ActionRecord, error) {
	if session.State != domain.StateExecuting {
		return nil, fmt.Errorf("dispatch called in state %s", session.State)
	}
	spec, ok := d.registry.Lookup(session.PendingIntent)
	if !ok {
		return nil, fmt.Errorf("dispatch for unknown intent %q", session.PendingIntent)
	}
	if missing := spec.FirstMissing(session.Slots); missing != nil {
		return nil, fmt.Errorf("dispatch with unfilled slot %q", missing.Name)
	}

	actionID := ActionID(session, spec)

	existing, err := d.repo.GetAction(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("lookup action record: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case domain.ActionConfirmed, domain.ActionSubmitted:
			d.logger.Info("dispatch deduplicated",
				"session_id", session.SessionID, "action_id", actionID,
				"status", string(existing.Status))
			return existing, nil
		case domain.ActionFailed:
			d.logger.Info("re-dispatching previously failed action",
				"session_id", session.SessionID, "action_id", actionID)
			return d.submit(ctx, session, spec, existing, actionID)
		}
	}

	now := time.Now()
	record := &domain.ActionRecord{
		ActionID:   actionID,
		SessionID:  session.SessionID,
		Intent:     spec.Name,
		ParamsJSON: encodeParams(d.params(session, spec)),
		Status:     domain.ActionSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.repo.PutAction(ctx, record); err != nil {
		return nil, fmt.Errorf("record submitted action: %w", err)
	}

	return d.submit(ctx, session, spec, record, actionID)
}

// submit performs the single ledger call and applies the resulting status
// transition. A failure is final for this dispatch: the user must confirm
// again before another attempt.
func (d *Dispatcher) submit(ctx context.Context, session *domain.Session, spec *schema.IntentSpec, record *domain.ActionRecord, actionID string) (*domain.ActionRecord, error) {
	if record.Status == domain.ActionFailed {
		if err := d.repo.UpdateActionStatus(ctx, actionID, domain.ActionSubmitted, ""); err != nil {
			return nil, fmt.Errorf("reset failed action: %w", err)
		}
		record.Status = domain.ActionSubmitted
		record.Reason = ""
	}

	_, err := d.client.SubmitAction(ctx, spec.Endpoint, spec.Method, d.params(session, spec), actionID)
	if err != nil {
		reason := "ledger call failed"
		if derr, ok := AsDispatchError(err); ok {
			reason = derr.Reason
		}
		if updateErr := d.repo.UpdateActionStatus(ctx, actionID, domain.ActionFailed, reason); updateErr != nil {
			d.logger.Error("failed to mark action FAILED",
				"action_id", actionID, "error", updateErr)
		}
		record.Status = domain.ActionFailed
		record.Reason = reason
		d.logger.Warn("ledger dispatch failed",
			"session_id", session.SessionID, "action_id", actionID, "reason", reason)
		return record, err
	}

	if err := d.repo.UpdateActionStatus(ctx, actionID, domain.ActionConfirmed, ""); err != nil {
		// The ledger accepted; losing the status update must not re-open the
		// action, so log and return the confirmed view.
		d.logger.Error("failed to mark action CONFIRMED",
			"action_id", actionID, "error", err)
	}
	record.Status = domain.ActionConfirmed
	record.Reason = ""
	d.logger.Info("ledger dispatch confirmed",
		"session_id", session.SessionID, "action_id", actionID, "intent", spec.Name)
	return record, nil
}

// params builds the ledger request body from the filled slots plus the
// sender's phone, which is implied by the WhatsApp session identity.
func (d *Dispatcher) params(session *domain.Session, spec *schema.IntentSpec) map[string]string {
	params := make(map[string]string, len(spec.Slots)+1)
	for _, name := range spec.RequiredSlotNames() {
		if slot, ok := session.Slots[name]; ok {
			params[name] = slot.Value
		}
	}
	params["sender_phone"] = senderPhone(session.SessionID)
	return params
}

// senderPhone normalizes the WhatsApp sender ID to the local phone format
// the ledger expects.
func senderPhone(sessionID string) string {
	phone := strings.TrimPrefix(sessionID, "+")
	if len(phone) == 12 {
		phone = strings.TrimPrefix(phone, "237")
	}
	return phone
}

func encodeParams(params map[string]string) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}
