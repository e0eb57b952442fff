// Package withdrawal exposes the withdrawal engine over HTTP.
package withdrawal

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/amirasaad/coopcredit/pkg/app"
	"github.com/amirasaad/coopcredit/pkg/handler/decision"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	withdrawalsvc "github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/amirasaad/coopcredit/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// IdempotencyKeyHeader carries the client-chosen request identity.
const IdempotencyKeyHeader = "Idempotency-Key"

// Routes registers HTTP routes for withdrawal operations.
//
// Routes:
//   - POST /retraits                 : Submit a withdrawal.
//   - POST /retraits/simulation      : Preview fee and net debit.
//   - GET  /retraits/statistiques    : Decision counters since start.
//   - GET  /parametres               : Current parameter snapshot.
//   - GET  /membres/:id/plafonds     : Daily usage and remaining quota.
func Routes(r fiber.Router, a *app.App) {
	logger := a.Deps.Logger
	r.Post("/retraits", CreateWithdrawal(a.Withdrawals, a.Deps.Params, logger))
	r.Post("/retraits/simulation", QuoteWithdrawal(a.Validator, logger))
	r.Get("/retraits/statistiques", GetStatistics(a.Stats))
	r.Get("/parametres", GetParameters(a.Deps.Params))
	r.Get("/membres/:id/plafonds", GetDailyUsage(a.Validator, logger))
}

// CreateWithdrawal returns a Fiber handler that runs a withdrawal through the
// validator. Admitted requests answer 201, refusals 422 with {statut, code,
// message}, and failures as problem details.
func CreateWithdrawal(
	processor withdrawalsvc.Processor,
	params policy.Provider,
	logger *slog.Logger,
) fiber.Handler {
	return func(c *fiber.Ctx) error {
		log := logger.With("handler", "CreateWithdrawal")

		id := uuid.New()
		if key := strings.TrimSpace(c.Get(IdempotencyKeyHeader)); key != "" {
			parsed, err := uuid.Parse(key)
			if err != nil {
				return common.ProblemDetailsJSON(c, "Invalid idempotency key", err,
					"Idempotency-Key must be a UUID", fiber.StatusBadRequest)
			}
			id = parsed
		}
		log = log.With("request_id", id)

		input, err := common.BindAndValidate[CreateWithdrawalRequest](c)
		if input == nil {
			return err
		}
		snap, err := params.Current()
		if err != nil {
			log.Error("❌ [ERROR] No parameters available", "error", err)
			return common.ProblemDetailsJSON(c, "Parameters unavailable", err)
		}
		req, err := input.toRequest(snap.Location)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid withdrawal request", err, fiber.StatusBadRequest)
		}
		req.ID = id

		log.Info("🟢 [START] Withdrawal received", "member_id", req.MemberID, "amount", req.Amount.String())
		d, err := processor.Process(c.UserContext(), req)
		if err != nil {
			log.Error("❌ [ERROR] Withdrawal failed", "error", err, "kind", withdrawalsvc.KindOf(err))
			return common.ProblemDetailsJSON(c, "Withdrawal failed", err)
		}
		if !d.Admitted() {
			log.Info("⛔ [REJECTED] Withdrawal rejected", "kind", d.Rejection.Kind)
			return common.RejectionJSON(c, d.Rejection)
		}
		log.Info("✅ [SUCCESS] Withdrawal admitted", "net_debit", d.NetDebit.String(), "replayed", d.Replayed)
		return c.Status(fiber.StatusCreated).JSON(toWithdrawalResponse(d))
	}
}

// QuoteWithdrawal returns a Fiber handler that previews the fee of an amount.
func QuoteWithdrawal(v *withdrawalsvc.Validator, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[QuoteRequest](c)
		if input == nil {
			return err
		}
		code, err := money.ParseCode(input.Currency)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid currency", err)
		}
		amount, err := money.New(input.Amount, code)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid amount", err)
		}
		q, err := v.Quote(c.UserContext(), amount)
		if err != nil {
			logger.Warn("quote failed", "handler", "QuoteWithdrawal", "error", err)
			return common.ProblemDetailsJSON(c, "Quote failed", err)
		}
		return c.JSON(toQuoteResponse(q))
	}
}

// GetParameters returns a Fiber handler that serves the current snapshot.
func GetParameters(params policy.Provider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := params.Current()
		if err != nil {
			return common.ProblemDetailsJSON(c, "Parameters unavailable", err)
		}
		return c.JSON(ParametersResponse{
			Version:     snap.Version,
			EffectiveAt: snap.EffectiveAt,
			Timezone:    snap.Location.String(),
			Parameters:  snap.Document,
		})
	}
}

// GetDailyUsage returns a Fiber handler that reports a member's usage for a
// day, today in the cooperative's timezone by default.
func GetDailyUsage(v *withdrawalsvc.Validator, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		member := strings.TrimSpace(c.Params("id"))
		code, err := money.ParseCode(c.Query("devise", string(money.FC)))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid currency", err)
		}
		var day limits.Day
		if q := c.Query("date"); q != "" {
			if day, err = limits.ParseDay(q); err != nil {
				return common.ProblemDetailsJSON(c, "Invalid date", err)
			}
		}

		usage, lim, err := v.Usage(c.UserContext(), member, code, day)
		if err != nil {
			if !errors.Is(err, limits.ErrConcurrencyConflict) {
				logger.Error("❌ [ERROR] Usage lookup failed", "handler", "GetDailyUsage", "member_id", member, "error", err)
			}
			return common.ProblemDetailsJSON(c, "Usage unavailable", err)
		}
		remainingCount, remainingAmount := usage.Remaining(lim)
		return c.JSON(UsageResponse{
			Member:          member,
			Currency:        code,
			Day:             usage.Key.Day,
			Count:           usage.Count,
			Total:           amountJSON(usage.Total),
			RemainingCount:  remainingCount,
			RemainingAmount: amountJSON(remainingAmount),
		})
	}
}

// GetStatistics returns a Fiber handler that serves the decision counters.
func GetStatistics(stats *decision.Stats) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Decision statistics", stats.Summary())
	}
}
