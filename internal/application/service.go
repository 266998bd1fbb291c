package application

import (
	"log/slog"
	"time"

	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

type Service struct {
	cfg         Config
	logger      *slog.Logger
	uow         ports.UnitOfWork
	fundings    ports.CampaignFundingRepository
	withdrawals ports.WithdrawalRepository
	donations   ports.DonationRepository
	campaigns   ports.CampaignRepository
	outbox      ports.OutboxRepository
	matching    ports.MatchingAdapter
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Logger      *slog.Logger
	UnitOfWork  ports.UnitOfWork
	Fundings    ports.CampaignFundingRepository
	Withdrawals ports.WithdrawalRepository
	Donations   ports.DonationRepository
	Campaigns   ports.CampaignRepository
	Outbox      ports.OutboxRepository
	Matching    ports.MatchingAdapter
	Clock       func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:         deps.Config.withDefaults(),
		logger:      logger,
		uow:         deps.UnitOfWork,
		fundings:    deps.Fundings,
		withdrawals: deps.Withdrawals,
		donations:   deps.Donations,
		campaigns:   deps.Campaigns,
		outbox:      deps.Outbox,
		matching:    deps.Matching,
		nowFn:       nowFn,
	}
}
