package withdrawal_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	infra_eventbus "github.com/amirasaad/coopcredit/infra/eventbus"
	"github.com/amirasaad/coopcredit/infra/repository"
	"github.com/amirasaad/coopcredit/pkg/app"
	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/amirasaad/coopcredit/pkg/testutils"
	withdrawalsvc "github.com/amirasaad/coopcredit/pkg/withdrawal"
	withdrawalweb "github.com/amirasaad/coopcredit/webapi/withdrawal"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type WithdrawalHandlersTestSuite struct {
	suite.Suite
	fiber *fiber.App
	store *repository.MemoryStore
	now   time.Time
}

func TestWithdrawalHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(WithdrawalHandlersTestSuite))
}

func (s *WithdrawalHandlersTestSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.fiber = s.newApp(func() time.Time { return s.now })
}

func (s *WithdrawalHandlersTestSuite) newApp(clock func() time.Time) *fiber.App {
	logger := testutils.DiscardLogger()
	params := policy.NewStore(time.UTC, logger, policy.WithClock(clock))
	_, err := params.Publish(policy.DefaultDocument())
	s.Require().NoError(err)

	s.store = repository.NewMemoryStore(
		withdrawalsvc.Account{
			ID:         "M-001",
			BalanceFC:  money.Must(1_000_000, money.FC),
			BalanceUSD: money.Must(100_000, money.USD),
			Active:     true,
		},
		withdrawalsvc.Account{
			ID:         "M-002",
			BalanceFC:  money.Must(1_000_000, money.FC),
			BalanceUSD: money.Zero(money.USD),
			Active:     false,
		},
	)

	a := app.New(&app.Deps{
		Params:     params,
		Accounts:   s.store,
		Ledger:     s.store,
		Aggregator: limits.NewMemoryAggregator(logger),
		EventBus:   infra_eventbus.NewWithMemory(logger),
		Logger:     logger,
		Clock:      clock,
	}, &config.App{Env: "test"})

	f := fiber.New()
	withdrawalweb.Routes(f, a)
	return f
}

func (s *WithdrawalHandlersTestSuite) do(method, path, body string, headers map[string]string) (int, map[string]any) {
	resp := testutils.MakeRequest(s.T(), s.fiber, method, path, body, headers)
	defer resp.Body.Close() //nolint: errcheck
	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

const validBody = `{"compte":"M-001","devise":"FC","montant":100000,"dateOperation":"2026-03-02T10:00:00Z","description":"frais scolaires"}`

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_Admitted() {
	status, body := s.do(fiber.MethodPost, "/retraits", validBody, nil)

	s.Equal(http.StatusCreated, status)
	s.Equal("admis", body["statut"])
	s.Equal("FC", body["devise"])
	s.InDelta(100000, body["montant"], 0)
	s.InDelta(2500, body["frais"], 0)
	s.InDelta(102500, body["montantDebite"], 0)
	s.InDelta(897500, body["soldeApres"], 0)

	acct, err := s.store.GetAccount(s.T().Context(), "M-001")
	s.Require().NoError(err)
	s.True(acct.BalanceFC.Equals(money.Must(897_500, money.FC)))
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_ReplayWithIdempotencyKey() {
	headers := map[string]string{withdrawalweb.IdempotencyKeyHeader: uuid.NewString()}

	status, first := s.do(fiber.MethodPost, "/retraits", validBody, headers)
	s.Require().Equal(http.StatusCreated, status)
	s.Nil(first["rejoue"])

	status, second := s.do(fiber.MethodPost, "/retraits", validBody, headers)
	s.Require().Equal(http.StatusCreated, status)
	s.Equal(true, second["rejoue"])
	s.Equal(first["reference"], second["reference"])

	s.Len(s.store.Entries("M-001"), 1)
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_Rejections() {
	tests := []struct {
		name string
		body string
		code string
	}{
		{
			name: "missing reason",
			body: `{"compte":"M-001","devise":"FC","montant":100000,"dateOperation":"2026-03-02T10:00:00Z"}`,
			code: "MissingReason",
		},
		{
			name: "above per-withdrawal maximum",
			body: `{"compte":"M-001","devise":"FC","montant":600000,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`,
			code: "AmountOutOfBounds",
		},
		{
			name: "below minimum in USD",
			body: `{"compte":"M-001","devise":"USD","montant":0.5,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`,
			code: "AmountOutOfBounds",
		},
		{
			name: "inactive account",
			body: `{"compte":"M-002","devise":"FC","montant":10000,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`,
			code: "AccountInactive",
		},
		{
			name: "above USD maximum",
			body: `{"compte":"M-001","devise":"USD","montant":995,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`,
			code: "AmountOutOfBounds",
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			status, body := s.do(fiber.MethodPost, "/retraits", tt.body, nil)
			s.Equal(http.StatusUnprocessableEntity, status)
			s.Equal("rejete", body["statut"])
			s.Equal(tt.code, body["code"])
			s.NotEmpty(body["message"])
		})
	}
	s.Empty(s.store.Entries("M-001"))
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_InsufficientBalance() {
	status, body := s.do(fiber.MethodPost, "/retraits",
		`{"compte":"M-001","devise":"USD","montant":490,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`, nil)
	s.Require().Equal(http.StatusCreated, status)
	s.InDelta(499.80, body["montantDebite"], 0.001)
	s.InDelta(500.20, body["soldeApres"], 0.001)

	status, body = s.do(fiber.MethodPost, "/retraits",
		`{"compte":"M-001","devise":"USD","montant":490,"dateOperation":"2026-03-02T10:05:00Z","description":"achat"}`, nil)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("InsufficientBalance", body["code"])
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_OutsideAllowedHours() {
	s.fiber = s.newApp(func() time.Time { return time.Date(2026, 3, 2, 22, 1, 0, 0, time.UTC) })

	status, body := s.do(fiber.MethodPost, "/retraits", validBody, nil)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("OutsideAllowedHours", body["code"])
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_DailyCountLimit() {
	for i := 0; i < 5; i++ {
		status, _ := s.do(fiber.MethodPost, "/retraits",
			`{"compte":"M-001","devise":"FC","montant":1000,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`, nil)
		s.Require().Equal(http.StatusCreated, status, "withdrawal %d", i+1)
	}
	status, body := s.do(fiber.MethodPost, "/retraits",
		`{"compte":"M-001","devise":"FC","montant":1000,"dateOperation":"2026-03-02T10:00:00Z","description":"achat"}`, nil)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("DailyCountLimitExceeded", body["code"])
}

func (s *WithdrawalHandlersTestSuite) TestCreateWithdrawal_BadInput() {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
	}{
		{name: "malformed json", body: `{"compte":`, status: http.StatusBadRequest},
		{name: "missing account", body: `{"devise":"FC","montant":1000,"dateOperation":"2026-03-02T10:00:00Z"}`, status: http.StatusBadRequest},
		{name: "unsupported currency", body: `{"compte":"M-001","devise":"EUR","montant":1000,"dateOperation":"2026-03-02T10:00:00Z"}`, status: http.StatusBadRequest},
		{name: "negative amount", body: `{"compte":"M-001","devise":"FC","montant":-5,"dateOperation":"2026-03-02T10:00:00Z","description":"x"}`, status: http.StatusBadRequest},
		{name: "bad date", body: `{"compte":"M-001","devise":"FC","montant":1000,"dateOperation":"02/03/2026","description":"x"}`, status: http.StatusBadRequest},
		{
			name:    "bad idempotency key",
			body:    validBody,
			headers: map[string]string{withdrawalweb.IdempotencyKeyHeader: "not-a-uuid"},
			status:  http.StatusBadRequest,
		},
		{name: "unknown account", body: `{"compte":"M-404","devise":"FC","montant":1000,"dateOperation":"2026-03-02T10:00:00Z","description":"x"}`, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			status, body := s.do(fiber.MethodPost, "/retraits", tt.body, tt.headers)
			s.Equal(tt.status, status)
			s.InDelta(tt.status, body["status"], 0)
			s.NotEmpty(body["title"])
		})
	}
}

func (s *WithdrawalHandlersTestSuite) TestQuoteWithdrawal() {
	status, body := s.do(fiber.MethodPost, "/retraits/simulation", `{"devise":"USD","montant":50}`, nil)
	s.Require().Equal(http.StatusOK, status)
	s.InDelta(1.25, body["frais"], 0.0001)
	s.InDelta(51.25, body["montantDebite"], 0.0001)
	s.Equal("FC", body["deviseContreValeur"])
	s.InDelta(143500, body["contreValeur"], 0)
	s.InDelta(2, body["palier"], 0)
	s.Equal(true, body["dansLesLimites"])

	status, body = s.do(fiber.MethodPost, "/retraits/simulation", `{"devise":"CDF","montant":50000}`, nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("FC", body["devise"])
	s.InDelta(1500, body["frais"], 0)
	s.InDelta(1, body["palier"], 0)

	status, _ = s.do(fiber.MethodPost, "/retraits/simulation", `{"devise":"FC","montant":0}`, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *WithdrawalHandlersTestSuite) TestGetParameters() {
	status, body := s.do(fiber.MethodGet, "/parametres", "", nil)
	s.Require().Equal(http.StatusOK, status)
	s.InDelta(1, body["version"], 0)
	s.Equal("UTC", body["fuseauHoraire"])
	params, ok := body["parametres"].(map[string]any)
	s.Require().True(ok)
	s.Equal(true, params["motif_obligatoire"])
	s.InDelta(5, params["max_retraits_par_jour"], 0)
}

func (s *WithdrawalHandlersTestSuite) TestGetDailyUsage() {
	status, _ := s.do(fiber.MethodPost, "/retraits", validBody, nil)
	s.Require().Equal(http.StatusCreated, status)

	status, body := s.do(fiber.MethodGet, "/membres/M-001/plafonds?devise=FC", "", nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("2026-03-02", body["date"])
	s.InDelta(1, body["nombre"], 0)
	s.InDelta(100000, body["total"], 0)
	s.InDelta(4, body["nombreRestant"], 0)
	s.InDelta(1900000, body["montantRestant"], 0)

	status, body = s.do(fiber.MethodGet, "/membres/M-001/plafonds?devise=FC&date=2026-03-01", "", nil)
	s.Require().Equal(http.StatusOK, status)
	s.InDelta(0, body["nombre"], 0)

	status, _ = s.do(fiber.MethodGet, "/membres/M-001/plafonds?date=01-03-2026", "", nil)
	s.Equal(http.StatusBadRequest, status)

	status, _ = s.do(fiber.MethodGet, "/membres/M-001/plafonds?devise=EUR", "", nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *WithdrawalHandlersTestSuite) TestGetStatistics() {
	s.do(fiber.MethodPost, "/retraits", validBody, nil)
	s.do(fiber.MethodPost, "/retraits",
		`{"compte":"M-001","devise":"FC","montant":100000,"dateOperation":"2026-03-02T10:00:00Z"}`, nil)

	status, body := s.do(fiber.MethodGet, "/retraits/statistiques", "", nil)
	s.Require().Equal(http.StatusOK, status)
	data, ok := body["data"].(map[string]any)
	s.Require().True(ok)
	s.InDelta(1, data["admis"], 0)
	rejected, ok := data["rejete"].(map[string]any)
	s.Require().True(ok)
	s.InDelta(1, rejected["MissingReason"], 0)
}
